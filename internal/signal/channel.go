package signal

import (
	"sort"
	"strings"

	"github.com/dkeye/ringcall/internal/domain"
)

// DeriveSessionChannel returns the channel key shared by a and b. The pair is
// sorted so both sides compute it without coordination.
func DeriveSessionChannel(a, b domain.PartyID) domain.SessionID {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return domain.SessionID("call:" + strings.Join(ids, ":"))
}

// DeriveUserSignalAddress returns the well-known address on which id
// receives incoming offers.
func DeriveUserSignalAddress(id domain.PartyID) string {
	return "user-signals:" + string(id)
}

// Outranks reports whether self keeps the caller role when self and peer
// dial each other at once.
func Outranks(self, peer domain.PartyID) bool {
	return self < peer
}
