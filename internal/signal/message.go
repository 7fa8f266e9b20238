// Package signal carries typed call signaling messages over a generic bus.
package signal

import (
	"fmt"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

// Event is the bus event name every call signal is published under.
const Event = "call-signal"

type Kind string

const (
	KindIncomingOffer Kind = "incoming_offer"
	KindOffer         Kind = "sdp_offer"
	KindAnswer        Kind = "sdp_answer"
	KindCandidate     Kind = "ice_candidate"
	KindReject        Kind = "reject"
	KindHangup        Kind = "hangup"
	KindBusy          Kind = "busy"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: invalid signal message", core.ErrProtocolViolation)
	ErrUnknownSession = fmt.Errorf("%w: message for unknown session", core.ErrProtocolViolation)
)

var (
	json     = jsoniter.ConfigCompatibleWithStandardLibrary
	validate = validator.New()
)

// IncomingOffer is sent to the callee's well-known address. It carries the
// offer itself so the callee never depends on cross-channel ordering.
type IncomingOffer struct {
	Caller      domain.Profile     `json:"caller" validate:"required"`
	Mode        domain.Mode        `json:"mode" validate:"required,oneof=audio video"`
	Description domain.Description `json:"description" validate:"required"`
}

// Message is the wire unit exchanged between the two parties.
type Message struct {
	Kind    Kind             `json:"kind" validate:"required,oneof=incoming_offer sdp_offer sdp_answer ice_candidate reject hangup busy"`
	From    domain.PartyID   `json:"from" validate:"required"`
	Session domain.SessionID `json:"session" validate:"required"`
	Attempt string           `json:"attempt" validate:"required"`

	Offer       *IncomingOffer      `json:"offer,omitempty"`
	Description *domain.Description `json:"description,omitempty"`
	Candidate   *domain.Candidate   `json:"candidate,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// Validate checks the envelope and the payload required by Kind.
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch m.Kind {
	case KindIncomingOffer:
		if m.Offer == nil || m.Offer.Description.Type != "offer" {
			return fmt.Errorf("%w: incoming offer without offer description", ErrInvalidMessage)
		}
		if m.Offer.Caller.ID != m.From {
			return fmt.Errorf("%w: caller %q does not match sender %q", ErrInvalidMessage, m.Offer.Caller.ID, m.From)
		}
	case KindOffer:
		if m.Description == nil || m.Description.Type != "offer" {
			return fmt.Errorf("%w: sdp_offer without offer", ErrInvalidMessage)
		}
	case KindAnswer:
		if m.Description == nil || m.Description.Type != "answer" {
			return fmt.Errorf("%w: sdp_answer without answer", ErrInvalidMessage)
		}
	case KindCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: ice_candidate without candidate", ErrInvalidMessage)
		}
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}
