package signal

import "github.com/dkeye/ringcall/internal/domain"

// CandidateBuffer queues remote candidates until their description is
// applied. Content duplicates are dropped for the buffer's whole lifetime.
// Not safe for concurrent use.
type CandidateBuffer struct {
	seen    map[string]struct{}
	pending []domain.Candidate
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{seen: make(map[string]struct{})}
}

// Add queues c and reports false if an equal candidate was seen before.
func (b *CandidateBuffer) Add(c domain.Candidate) bool {
	if !b.Mark(c) {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

// Mark records c as seen without queueing it.
func (b *CandidateBuffer) Mark(c domain.Candidate) bool {
	key := c.Key()
	if _, dup := b.seen[key]; dup {
		return false
	}
	b.seen[key] = struct{}{}
	return true
}

// Drain returns queued candidates in arrival order, each exactly once.
func (b *CandidateBuffer) Drain() []domain.Candidate {
	out := b.pending
	b.pending = nil
	return out
}

func (b *CandidateBuffer) Len() int { return len(b.pending) }
