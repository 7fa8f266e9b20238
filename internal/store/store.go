// Package store keeps the call-record audit trail.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Store is a call-record backend.
type Store interface {
	RecordCallStatus(ctx context.Context, rec domain.CallRecord) error
	// History returns the records of one session, oldest first.
	History(ctx context.Context, session domain.SessionID, limit int) ([]domain.CallRecord, error)
	// Prune deletes records written before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open picks a backend by driver name: "sqlite" (dsn is a directory),
// "postgres" (dsn is a libpq connection string) or "none".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	case "", "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Discard drops every record.
type Discard struct{}

func (Discard) RecordCallStatus(context.Context, domain.CallRecord) error { return nil }
func (Discard) History(context.Context, domain.SessionID, int) ([]domain.CallRecord, error) {
	return nil, nil
}
func (Discard) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (Discard) Close() error                                      { return nil }
