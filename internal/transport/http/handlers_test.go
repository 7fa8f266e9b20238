package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/gin-gonic/gin"
)

type fakeHistory struct {
	session domain.SessionID
	limit   int
	recs    []domain.CallRecord
	err     error
}

func (f *fakeHistory) History(_ context.Context, session domain.SessionID, limit int) ([]domain.CallRecord, error) {
	f.session = session
	f.limit = limit
	return f.recs, f.err
}

func newHistoryRouter(h HistoryReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/history", func(c *gin.Context) {
		c.Set("party", "bob")
		c.Next()
	}, HandleHistory(h))
	return r
}

func TestHandleHistory(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	fh := &fakeHistory{recs: []domain.CallRecord{
		{SessionID: "call:alice:bob", Attempt: "a1", Party: "alice", Status: domain.CallRinging, Mode: domain.ModeVideo, At: at},
	}}
	r := newHistoryRouter(fh)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history?peer=alice&limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fh.session != "call:alice:bob" || fh.limit != 10 {
		t.Fatalf("unexpected query session=%s limit=%d", fh.session, fh.limit)
	}

	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Status != string(domain.CallRinging) || resp.Records[0].At != at.UnixMilli() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleHistoryErrors(t *testing.T) {
	cases := []struct {
		name string
		url  string
		err  error
		code int
	}{
		{name: "missing peer", url: "/history", code: http.StatusBadRequest},
		{name: "limit too large", url: "/history?peer=alice&limit=5000", code: http.StatusBadRequest},
		{name: "store failure", url: "/history?peer=alice", err: errors.New("down"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newHistoryRouter(&fakeHistory{err: tc.err})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}
