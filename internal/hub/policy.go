package hub

import "fmt"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(channel string, client *Client) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(string, *Client) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the config names "drop" and "kick".
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "drop":
		return SimplePolicy{Action: DropFrame}, nil
	case "kick", "":
		return SimplePolicy{Action: KickConn}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
