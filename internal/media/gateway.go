package media

import (
	"fmt"

	"github.com/dkeye/ringcall/internal/core"
)

// Options tune device capture.
type Options struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

// NewGateway picks the gateway named by driver: "devices" or "synthetic".
func NewGateway(driver string, opts Options) (core.MediaGateway, error) {
	switch driver {
	case "", "devices":
		return NewDeviceGateway(opts), nil
	case "synthetic":
		return NewSyntheticGateway(), nil
	default:
		return nil, fmt.Errorf("unknown media driver %q", driver)
	}
}
