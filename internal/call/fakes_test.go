package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/ringcall/internal/bus/memory"
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/pion/webrtc/v4"
)

type fakeStream struct {
	id       string
	video    bool
	muted    atomic.Bool
	videoOff atomic.Bool
	releases atomic.Int32
}

func (s *fakeStream) ID() string                   { return s.id }
func (s *fakeStream) HasVideo() bool               { return s.video }
func (s *fakeStream) Tracks() []webrtc.TrackLocal  { return nil }
func (s *fakeStream) SetMuted(m bool)              { s.muted.Store(m) }
func (s *fakeStream) SetVideoEnabled(enabled bool) { s.videoOff.Store(!enabled) }
func (s *fakeStream) Muted() bool                  { return s.muted.Load() }
func (s *fakeStream) VideoEnabled() bool           { return s.video && !s.videoOff.Load() }
func (s *fakeStream) Release()                     { s.releases.Add(1) }

type fakeGateway struct {
	gate chan struct{}
	deny error

	mu      sync.Mutex
	streams []*fakeStream
}

func (g *fakeGateway) Acquire(_ context.Context, mode domain.Mode) (core.LocalStream, error) {
	if g.gate != nil {
		<-g.gate
	}
	if g.deny != nil {
		return nil, g.deny
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &fakeStream{id: fmt.Sprintf("stream-%d", len(g.streams)), video: mode.HasVideo()}
	g.streams = append(g.streams, s)
	return s, nil
}

func (g *fakeGateway) acquired() []*fakeStream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*fakeStream(nil), g.streams...)
}

type fakePeer struct {
	attempt   string
	initiator bool
	h         core.EngineHandlers
	local     domain.Description

	mu         sync.Mutex
	answers    int
	candidates []string
	closed     int
}

func (p *fakePeer) LocalDescription() domain.Description { return p.local }

func (p *fakePeer) ApplyRemoteAnswer(domain.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	if !p.initiator || p.answers > 1 {
		return fmt.Errorf("%w: answer", core.ErrProtocolViolation)
	}
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c domain.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) snapshot() (answers int, candidates []string, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers, append([]string(nil), p.candidates...), p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewInitiator(_ context.Context, attempt string, _ core.LocalStream, h core.EngineHandlers) (core.PeerSession, error) {
	return f.add(&fakePeer{attempt: attempt, initiator: true, h: h,
		local: domain.Description{Type: "offer", SDP: "offer-" + attempt}}), nil
}

func (f *fakeFactory) NewResponder(_ context.Context, attempt string, _ domain.Description, _ core.LocalStream, h core.EngineHandlers) (core.PeerSession, error) {
	return f.add(&fakePeer{attempt: attempt, h: h,
		local: domain.Description{Type: "answer", SDP: "answer-" + attempt}}), nil
}

func (f *fakeFactory) add(p *fakePeer) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = append(f.peers, p)
	return p
}

func (f *fakeFactory) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakeFactory) last(t *testing.T) *fakePeer {
	t.Helper()
	var p *fakePeer
	waitFor(t, "peer session", func() bool {
		peers := f.all()
		if len(peers) == 0 {
			return false
		}
		p = peers[len(peers)-1]
		return true
	})
	return p
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

func (r *fakeRecorder) RecordCallStatus(_ context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) statuses() []domain.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallStatus, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Status)
	}
	return out
}

type party struct {
	profile domain.Profile
	coord   *Coordinator
	media   *fakeGateway
	engine  *fakeFactory
	rec     *fakeRecorder
}

func newParty(t *testing.T, bus core.Bus, clk clock.Clock, id domain.PartyID, gw *fakeGateway) *party {
	t.Helper()
	if gw == nil {
		gw = &fakeGateway{}
	}
	p := &party{
		profile: domain.Profile{ID: id, Username: "user-" + string(id)},
		media:   gw,
		engine:  &fakeFactory{},
		rec:     &fakeRecorder{},
	}
	sig := signal.NewAdapter(bus, id)
	p.coord = New(Options{
		Self:     p.profile,
		Signal:   sig,
		Media:    p.media,
		Engine:   p.engine,
		Recorder: p.rec,
		Clock:    clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.coord.Run(ctx)
	}()
	l := NewListener(sig, p.coord)
	if err := l.Start(); err != nil {
		t.Fatalf("listener start: %v", err)
	}
	t.Cleanup(func() {
		l.Stop()
		cancel()
		<-done
	})
	return p
}

func newBus(t *testing.T) *memory.Bus {
	bus := memory.New()
	t.Cleanup(bus.Close)
	return bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, p *party, want domain.CallState) Status {
	t.Helper()
	var st Status
	waitFor(t, fmt.Sprintf("%s to reach %s", p.profile.ID, want), func() bool {
		st = p.coord.Status()
		return st.CallStatus == want
	})
	return st
}

// spy records every signal published on channel.
type spy struct {
	mu   sync.Mutex
	msgs []signal.Message
}

func newSpy(t *testing.T, bus core.Bus, channel string) *spy {
	t.Helper()
	s := &spy{}
	unsub, err := bus.Subscribe(channel, signal.Event, func(data []byte) {
		m, err := signal.Decode(data)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.msgs = append(s.msgs, m)
		s.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("spy subscribe: %v", err)
	}
	t.Cleanup(unsub)
	return s
}

func (s *spy) kinds() []signal.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]signal.Kind, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func (s *spy) find(kind signal.Kind) (signal.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.Kind == kind {
			return m, true
		}
	}
	return signal.Message{}, false
}
