package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newServer(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(opts)
	ctx, cancel := context.WithCancel(context.Background())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("party", c.Query("party"))
		h.HandleWS(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, party string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url+"?party="+party, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", party, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	f := readFrame(t, c)
	if f.Op != OpWelcome || f.From != party {
		t.Fatalf("expected welcome for %s, got %+v", party, f)
	}
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, c *websocket.Conn, f Frame) {
	t.Helper()
	data, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func subscribe(t *testing.T, c *websocket.Conn, channel, event string) {
	t.Helper()
	writeFrame(t, c, Frame{Op: OpSubscribe, Channel: channel, Event: event})
	f := readFrame(t, c)
	if f.Op != OpSubscribed || f.Channel != channel || f.Event != event {
		t.Fatalf("expected subscribed ack, got %+v", f)
	}
}

// roundTrip sends a ping so every frame the connection sent before it has
// been handled by the relay.
func roundTrip(t *testing.T, c *websocket.Conn) {
	t.Helper()
	writeFrame(t, c, Frame{Op: OpPing})
	if f := readFrame(t, c); f.Op != OpPong {
		t.Fatalf("expected pong, got %+v", f)
	}
}

func TestPublishFanOutStampsSender(t *testing.T) {
	h, url := newServer(t, Options{})
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")
	m := dial(t, url, "mallory")

	subscribe(t, a, "alice:bob", "sdp_offer")
	subscribe(t, b, "alice:bob", "sdp_offer")

	if got := h.Registry.Count(); got != 3 {
		t.Fatalf("expected 3 connections, got %d", got)
	}

	writeFrame(t, m, Frame{Op: OpPublish, Channel: "alice:bob", Event: "sdp_offer", Payload: []byte(`{"x":1}`), From: "bob"})

	for _, c := range []*websocket.Conn{a, b} {
		f := readFrame(t, c)
		if f.Op != OpMessage || f.Channel != "alice:bob" || f.Event != "sdp_offer" {
			t.Fatalf("unexpected frame %+v", f)
		}
		if f.From != "mallory" {
			t.Fatalf("expected sender stamped as mallory, got %q", f.From)
		}
		if string(f.Payload) != `{"x":1}` {
			t.Fatalf("payload changed: %s", f.Payload)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	_, url := newServer(t, Options{})
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")

	subscribe(t, a, "ch", "ev")
	subscribe(t, b, "ch", "ev")

	writeFrame(t, a, Frame{Op: OpUnsubscribe, Channel: "ch", Event: "ev"})
	roundTrip(t, a)

	writeFrame(t, b, Frame{Op: OpPublish, Channel: "ch", Event: "ev", Payload: []byte("1")})
	if f := readFrame(t, b); f.Op != OpMessage {
		t.Fatalf("publisher subscriber should still receive, got %+v", f)
	}
	roundTrip(t, b)

	// a message for a would be queued ahead of the pong
	roundTrip(t, a)
}

func TestEventsAreSeparate(t *testing.T) {
	_, url := newServer(t, Options{})
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")

	subscribe(t, a, "ch", "sdp_answer")
	writeFrame(t, b, Frame{Op: OpPublish, Channel: "ch", Event: "ice_candidate", Payload: []byte("1")})
	roundTrip(t, b)
	roundTrip(t, a)
}

func TestPublishRateLimited(t *testing.T) {
	_, url := newServer(t, Options{Limiter: NewRateLimiter(1, time.Hour)})
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")
	subscribe(t, a, "ch", "ev")

	writeFrame(t, b, Frame{Op: OpPublish, Channel: "ch", Event: "ev", Payload: []byte("1")})
	writeFrame(t, b, Frame{Op: OpPublish, Channel: "ch", Event: "ev", Payload: []byte("2")})

	f := readFrame(t, b)
	if f.Op != OpError || f.Error != "rate limited" {
		t.Fatalf("expected rate limit error, got %+v", f)
	}
	if f := readFrame(t, a); string(f.Payload) != "1" {
		t.Fatalf("expected first publish only, got %+v", f)
	}
	roundTrip(t, a)
}

func TestBadAndUnknownFrames(t *testing.T) {
	_, url := newServer(t, Options{})
	a := dial(t, url, "alice")

	if err := a.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, a); f.Op != OpError || f.Error != "bad frame" {
		t.Fatalf("expected bad frame error, got %+v", f)
	}

	writeFrame(t, a, Frame{Op: "teleport"})
	if f := readFrame(t, a); f.Op != OpError || f.Error != "unknown op" {
		t.Fatalf("expected unknown op error, got %+v", f)
	}

	writeFrame(t, a, Frame{Op: OpSubscribe, Channel: "ch"})
	if f := readFrame(t, a); f.Op != OpError {
		t.Fatalf("expected subscribe without event to fail, got %+v", f)
	}
}

func TestDisconnectUnbinds(t *testing.T) {
	h, url := newServer(t, Options{})
	a := dial(t, url, "alice")
	subscribe(t, a, "ch", "ev")
	_ = a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(h.Registry.Members("ch", "ev")); got != 0 {
		t.Fatalf("expected no members after disconnect, got %d", got)
	}
}

type fakeConn struct {
	mu     sync.Mutex
	err    error
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestBackpressurePolicy(t *testing.T) {
	cases := []struct {
		name     string
		policy   string
		kicked   bool
		canceled bool
	}{
		{name: "kick", policy: "kick", kicked: true, canceled: true},
		{name: "drop", policy: "drop"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePolicy(tc.policy)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			h := New(Options{Policy: p})

			slow := &fakeConn{err: ErrBackpressure}
			fast := &fakeConn{}
			canceled := false
			h.Registry.Bind(&Client{ID: "slow", Party: "a", Conn: slow, Cancel: func() { canceled = true }})
			h.Registry.Bind(&Client{ID: "fast", Party: "b", Conn: fast, Cancel: func() {}})
			h.Registry.Subscribe("slow", "ch", "ev")
			h.Registry.Subscribe("fast", "ch", "ev")

			if n := h.Broadcast(domain.PartyID("c"), Frame{Channel: "ch", Event: "ev"}); n != 1 {
				t.Fatalf("expected one delivery, got %d", n)
			}
			if slow.closed != tc.kicked || canceled != tc.canceled {
				t.Fatalf("kicked=%v canceled=%v", slow.closed, canceled)
			}
			if len(fast.frames) != 1 {
				t.Fatalf("fast connection should get the frame")
			}
		})
	}

	if _, err := ParsePolicy("explode"); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("first two should pass")
	}
	if rl.Allow("a") {
		t.Fatalf("third within window should fail")
	}
	if !rl.Allow("b") {
		t.Fatalf("limits are per party")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatalf("window should have slid")
	}

	rl.Forget("a")
	if _, ok := rl.history["a"]; ok {
		t.Fatalf("history not forgotten")
	}

	var nilLimiter *RateLimiter
	if !nilLimiter.Allow("a") {
		t.Fatalf("nil limiter allows everything")
	}
}

func TestPublishWithForgedSenderRejected(t *testing.T) {
	_, url := newServer(t, Options{})
	a := dial(t, url, "alice")
	m := dial(t, url, "mallory")
	subscribe(t, a, "call:alice:bob", "call-signal")

	writeFrame(t, m, Frame{Op: OpPublish, Channel: "call:alice:bob", Event: "call-signal", Payload: []byte(`{"kind":"hangup","from":"bob"}`)})
	f := readFrame(t, m)
	if f.Op != OpError || f.Error != "sender mismatch" {
		t.Fatalf("expected sender mismatch, got %+v", f)
	}
	roundTrip(t, a)

	writeFrame(t, m, Frame{Op: OpPublish, Channel: "call:alice:bob", Event: "call-signal", Payload: []byte(`{"kind":"hangup","from":"mallory"}`)})
	if f := readFrame(t, a); f.Op != OpMessage || f.From != "mallory" {
		t.Fatalf("own sender should pass, got %+v", f)
	}
}

func TestSenderMatches(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "same party", payload: `{"from":"alice"}`, want: true},
		{name: "other party", payload: `{"from":"bob"}`, want: false},
		{name: "no from", payload: `{"x":1}`, want: true},
		{name: "non string from", payload: `{"from":7}`, want: true},
		{name: "not json", payload: `raw bytes`, want: true},
		{name: "nested from", payload: `{"offer":{"from":"bob"}}`, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := senderMatches("alice", []byte(tc.payload)); got != tc.want {
				t.Fatalf("senderMatches(%s) = %v, want %v", tc.payload, got, tc.want)
			}
		})
	}
}
