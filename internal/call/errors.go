package call

import (
	"errors"

	"github.com/dkeye/ringcall/internal/core"
)

var (
	ErrSignalingTimeout  = errors.New("no answer or connection within the negotiation deadline")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrBusy              = errors.New("remote party is busy")

	// ErrProtocolViolation marks duplicate or late signaling; it is logged
	// and never ends a call.
	ErrProtocolViolation = core.ErrProtocolViolation
)
