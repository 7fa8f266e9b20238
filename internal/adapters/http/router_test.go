package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/ringcall/internal/auth"
	"github.com/dkeye/ringcall/internal/config"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/hub"
	"github.com/gorilla/websocket"
)

func newRouter(t *testing.T) (*httptest.Server, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := SetupRouter(ctx, &config.Server{Mode: "test"}, hub.New(hub.Options{}), issuer, nil)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, issuer
}

func TestHealthz(t *testing.T) {
	srv, _ := newRouter(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestBusRequiresToken(t *testing.T) {
	srv, _ := newRouter(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/bus"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestBusStampsTokenParty(t *testing.T) {
	srv, issuer := newRouter(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/bus"

	tk, err := issuer.Issue(domain.Profile{ID: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tk)
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := hub.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Op != hub.OpWelcome || f.From != "alice" {
		t.Fatalf("expected welcome for alice, got %+v", f)
	}
}
