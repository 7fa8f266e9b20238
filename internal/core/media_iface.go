package core

import (
	"context"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaGateway acquires local capture devices.
type MediaGateway interface {
	// Acquire requests audio always and video iff mode is video.
	Acquire(ctx context.Context, mode domain.Mode) (LocalStream, error)
}

// LocalStream is the exclusively owned handle to captured tracks.
type LocalStream interface {
	ID() string
	HasVideo() bool
	Tracks() []webrtc.TrackLocal
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
	Muted() bool
	VideoEnabled() bool
	// Release stops all tracks. Idempotent.
	Release()
}

// CodecRegistrar is implemented by streams whose encoders dictate the codecs
// registered on the peer connection's media engine.
type CodecRegistrar interface {
	RegisterCodecs(me *webrtc.MediaEngine) error
}

// RemoteStream is the handle to media received from the peer.
type RemoteStream interface {
	StreamID() string
	Kinds() []string
}
