// Package rtc negotiates one peer-to-peer media session with pion/webrtc.
package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	ICEServers []string
	// Trickle emits candidates one by one; otherwise gathering completes
	// before the description is returned and candidates ride inside it.
	Trickle bool

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// RemoteTrackSink consumes received tracks. When nil they are drained.
	RemoteTrackSink func(track *webrtc.TrackRemote)
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          DefaultICEServers,
		Trickle:             true,
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory implements core.EngineFactory.
type Factory struct {
	cfg   Config
	newPC func(stream core.LocalStream) (peerConnection, error)
}

func NewFactory(cfg Config) *Factory {
	f := &Factory{cfg: cfg}
	f.newPC = f.newPionPC
	return f
}

func (f *Factory) newPionPC(stream core.LocalStream) (peerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if reg, ok := stream.(core.CodecRegistrar); ok {
		if err := reg.RegisterCodecs(mediaEngine); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if f.cfg.DisconnectedTimeout > 0 {
		se.SetICETimeouts(f.cfg.DisconnectedTimeout, f.cfg.FailedTimeout, f.cfg.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	servers := lo.Ternary(len(f.cfg.ICEServers) > 0, f.cfg.ICEServers, DefaultICEServers)
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return pionPC{pc}, nil
}

func (f *Factory) NewInitiator(ctx context.Context, attempt string, stream core.LocalStream, h core.EngineHandlers) (core.PeerSession, error) {
	s, err := f.open(attempt, true, stream, h)
	if err != nil {
		return nil, err
	}
	if err := s.offer(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (f *Factory) NewResponder(ctx context.Context, attempt string, offer domain.Description, stream core.LocalStream, h core.EngineHandlers) (core.PeerSession, error) {
	s, err := f.open(attempt, false, stream, h)
	if err != nil {
		return nil, err
	}
	if err := s.answer(ctx, offer); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (f *Factory) open(attempt string, initiator bool, stream core.LocalStream, h core.EngineHandlers) (*Session, error) {
	pc, err := f.newPC(stream)
	if err != nil {
		return nil, err
	}
	s := newSession(pc, attempt, initiator, f.cfg, h)
	s.start()
	s.attach(stream)
	return s, nil
}

// pionPC adapts *webrtc.PeerConnection to peerConnection.
type pionPC struct {
	*webrtc.PeerConnection
}

func (p pionPC) GatheringDone() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.PeerConnection)
}
