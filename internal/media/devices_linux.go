//go:build linux && cgo

package media

import (
	"context"
	"image"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceGateway captures camera and microphone through pion/mediadevices
// (V4L2 + malgo) and encodes VP8/Opus.
type DeviceGateway struct {
	opts Options
}

func NewDeviceGateway(opts Options) *DeviceGateway {
	if opts.MaxWidth == 0 {
		opts.MaxWidth = 640
	}
	if opts.MaxHeight == 0 {
		opts.MaxHeight = 480
	}
	if opts.VideoBitRate == 0 {
		opts.VideoBitRate = 1_500_000
	}
	return &DeviceGateway{opts: opts}
}

func (g *DeviceGateway) Acquire(ctx context.Context, mode domain.Mode) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AccessError{Mode: mode, Err: err}
	}
	logger := log.With().Str("module", "media").Str("mode", string(mode)).Logger()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, &AccessError{Mode: mode, Err: err}
	}
	vpxParams.BitRate = g.opts.VideoBitRate
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, &AccessError{Mode: mode, Err: err}
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{
		Codec: selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if mode.HasVideo() {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras emit malformed frames that poison
			// the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: g.opts.MaxWidth}
			c.Height = prop.IntRanged{Max: g.opts.MaxHeight}
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		logger.Warn().Err(err).Msg("GetUserMedia failed")
		return nil, &AccessError{Mode: mode, Err: err}
	}

	raw := ms.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(raw))
	stop := func() {
		for _, t := range raw {
			_ = t.Close()
		}
	}

	var s *Stream
	for _, t := range raw {
		t.OnEnded(func(err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("local track ended")
			}
		})
		switch tr := t.(type) {
		case *mediadevices.AudioTrack:
			tr.Transform(func(r audio.Reader) audio.Reader {
				return audio.ReaderFunc(func() (wave.Audio, func(), error) {
					chunk, release, err := r.Read()
					if err != nil || s == nil || !s.Muted() {
						return chunk, release, err
					}
					return silence(chunk), release, nil
				})
			})
		case *mediadevices.VideoTrack:
			tr.Transform(func(r video.Reader) video.Reader {
				return video.ReaderFunc(func() (image.Image, func(), error) {
					img, release, err := r.Read()
					if err != nil || s == nil || s.VideoEnabled() {
						return img, release, err
					}
					return black(img.Bounds()), release, nil
				})
			})
		}
		tracks = append(tracks, t)
	}

	s = newStream(mode.HasVideo(), tracks, stop)
	s.registerCodecs = func(me *webrtc.MediaEngine) error {
		selector.Populate(me)
		return nil
	}
	logger.Info().Int("tracks", len(tracks)).Str("stream", s.ID()).Msg("local media captured")
	return s, nil
}

func silence(chunk wave.Audio) wave.Audio {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		return wave.NewInt16Interleaved(c.ChunkInfo())
	case *wave.Float32Interleaved:
		return wave.NewFloat32Interleaved(c.ChunkInfo())
	case *wave.Int16NonInterleaved:
		return wave.NewInt16NonInterleaved(c.ChunkInfo())
	case *wave.Float32NonInterleaved:
		return wave.NewFloat32NonInterleaved(c.ChunkInfo())
	default:
		return chunk
	}
}

func black(bounds image.Rectangle) image.Image {
	img := image.NewYCbCr(bounds, image.YCbCrSubsampleRatio420)
	for i := range img.Cb {
		img.Cb[i] = 128
	}
	for i := range img.Cr {
		img.Cr[i] = 128
	}
	return img
}
