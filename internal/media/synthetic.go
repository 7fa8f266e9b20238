package media

import (
	"context"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SyntheticGateway produces sample tracks without touching devices. The
// tracks negotiate like real ones, which is enough for headless agents.
type SyntheticGateway struct {
	// Deny, if set, makes every Acquire fail with it, as a denied permission
	// prompt would.
	Deny error
}

func NewSyntheticGateway() *SyntheticGateway { return &SyntheticGateway{} }

func (g *SyntheticGateway) Acquire(ctx context.Context, mode domain.Mode) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AccessError{Mode: mode, Err: err}
	}
	if g.Deny != nil {
		return nil, &AccessError{Mode: mode, Err: g.Deny}
	}

	streamID := "synthetic"
	tracks := make([]webrtc.TrackLocal, 0, 2)
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, &AccessError{Mode: mode, Err: err}
	}
	tracks = append(tracks, audio)
	if mode.HasVideo() {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, &AccessError{Mode: mode, Err: err}
		}
		tracks = append(tracks, video)
	}
	return newStream(mode.HasVideo(), tracks, nil), nil
}
