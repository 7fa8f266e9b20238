//go:build !linux || !cgo

package media

import (
	"context"
	"errors"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
)

var errNoDriver = errors.New("no capture driver on this platform")

// DeviceGateway has no capture drivers outside linux+cgo builds; use the
// synthetic driver there.
type DeviceGateway struct {
	opts Options
}

func NewDeviceGateway(opts Options) *DeviceGateway {
	return &DeviceGateway{opts: opts}
}

func (g *DeviceGateway) Acquire(_ context.Context, mode domain.Mode) (core.LocalStream, error) {
	return nil, &AccessError{Mode: mode, Err: errNoDriver}
}
