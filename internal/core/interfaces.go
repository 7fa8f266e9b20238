package core

import (
	"context"
	"errors"

	"github.com/dkeye/ringcall/internal/domain"
)

// Bus is the generic publish/subscribe transport used for signaling.
// Delivery is best effort, in order per sender, possibly duplicated.
type Bus interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
	// Subscribe registers handler for event on channel. The returned func
	// releases the subscription and is safe to call more than once.
	Subscribe(channel, event string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// CallRecorder persists call status for audit/history. Never read back by
// the coordinator.
type CallRecorder interface {
	RecordCallStatus(ctx context.Context, rec domain.CallRecord) error
}

// ErrProtocolViolation marks duplicate, late or malformed signaling. Such
// errors are logged and ignored; best-effort transport makes them expected.
var ErrProtocolViolation = errors.New("protocol violation")
