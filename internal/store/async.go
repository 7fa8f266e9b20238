package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const writeTimeout = 5 * time.Second

// Async makes a recorder fire-and-forget: records are queued and written in
// order by one worker, and a full queue drops instead of blocking the caller.
type Async struct {
	next  core.CallRecorder
	queue chan domain.CallRecord
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next core.CallRecorder, size int) *Async {
	if size <= 0 {
		size = 128
	}
	a := &Async{next: next, queue: make(chan domain.CallRecord, size)}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Async) RecordCallStatus(_ context.Context, rec domain.CallRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		log.Warn().Str("module", "store").Str("session", string(rec.SessionID)).Msg("call record dropped")
		return ErrBackpressure
	}
}

func (a *Async) loop() {
	defer a.wg.Done()
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := a.next.RecordCallStatus(ctx, rec); err != nil {
			log.Error().Err(err).Str("module", "store").Str("session", string(rec.SessionID)).Msg("record call status")
		}
		cancel()
	}
}

// Close flushes queued records and stops the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
