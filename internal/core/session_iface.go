package core

import (
	"context"

	"github.com/dkeye/ringcall/internal/domain"
)

type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// EngineHandlers are installed before negotiation starts so no early event
// is lost. Handlers may be called from any goroutine.
type EngineHandlers struct {
	OnCandidate       func(domain.Candidate)
	OnRemoteStream    func(RemoteStream)
	OnConnectionState func(ConnState)
}

// PeerSession is one offer/answer negotiation with one remote peer.
type PeerSession interface {
	LocalDescription() domain.Description
	// ApplyRemoteAnswer is valid once, on initiators only.
	ApplyRemoteAnswer(desc domain.Description) error
	// AddRemoteCandidate buffers until a remote description is set and
	// drops duplicates.
	AddRemoteCandidate(c domain.Candidate) error
	// Close is idempotent.
	Close() error
}

// EngineFactory creates peer sessions; swappable so the coordinator is
// independent of the negotiation backend.
type EngineFactory interface {
	NewInitiator(ctx context.Context, attempt string, stream LocalStream, h EngineHandlers) (PeerSession, error)
	NewResponder(ctx context.Context, attempt string, offer domain.Description, stream LocalStream, h EngineHandlers) (PeerSession, error)
}
