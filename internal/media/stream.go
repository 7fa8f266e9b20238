// Package media acquires and releases local capture for one call.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Stream is the LocalStream handle shared by all gateways. Mute and video
// flags are read by the capture pipeline on every chunk/frame.
type Stream struct {
	id     string
	video  bool
	tracks []webrtc.TrackLocal

	muted    atomic.Bool
	videoOff atomic.Bool

	registerCodecs func(*webrtc.MediaEngine) error
	stop           func()
	once           sync.Once
	released       atomic.Bool
}

func newStream(video bool, tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		video:  video,
		tracks: tracks,
		stop:   stop,
	}
}

func (s *Stream) ID() string                   { return s.id }
func (s *Stream) HasVideo() bool               { return s.video }
func (s *Stream) Tracks() []webrtc.TrackLocal  { return s.tracks }
func (s *Stream) Muted() bool                  { return s.muted.Load() }
func (s *Stream) VideoEnabled() bool           { return s.video && !s.videoOff.Load() }
func (s *Stream) Released() bool               { return s.released.Load() }
func (s *Stream) SetMuted(muted bool)          { s.muted.Store(muted) }
func (s *Stream) SetVideoEnabled(enabled bool) { s.videoOff.Store(!enabled) }

// RegisterCodecs registers the codecs this stream's tracks produce.
func (s *Stream) RegisterCodecs(me *webrtc.MediaEngine) error {
	if s.registerCodecs != nil {
		return s.registerCodecs(me)
	}
	return me.RegisterDefaultCodecs()
}

// Release stops every track once; later calls are no-ops.
func (s *Stream) Release() {
	s.once.Do(func() {
		s.released.Store(true)
		if s.stop != nil {
			s.stop()
		}
		log.Info().Str("module", "media").Str("stream", s.id).Msg("stream released")
	})
}
