package signal

import (
	"errors"
	"testing"

	"github.com/dkeye/ringcall/internal/domain"
)

func offerMsg() Message {
	return Message{
		Kind:    KindIncomingOffer,
		From:    "a1",
		Session: DeriveSessionChannel("a1", "b2"),
		Attempt: "att-1",
		Offer: &IncomingOffer{
			Caller:      domain.Profile{ID: "a1", Username: "alice"},
			Mode:        domain.ModeVideo,
			Description: domain.Description{Type: "offer", SDP: "v=0"},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(offerMsg())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Offer == nil || m.Offer.Mode != domain.ModeVideo || m.Offer.Caller.Username != "alice" {
		t.Fatalf("unexpected offer payload: %+v", m.Offer)
	}
}

func TestValidateRejectsMissingPayload(t *testing.T) {
	cases := map[string]Message{
		"unknown kind": {Kind: "dance", From: "a1", Session: "call:a1:b2", Attempt: "x"},
		"offer without description": {Kind: KindOffer, From: "a1", Session: "call:a1:b2", Attempt: "x"},
		"answer typed as offer": {Kind: KindAnswer, From: "a1", Session: "call:a1:b2", Attempt: "x",
			Description: &domain.Description{Type: "offer", SDP: "v=0"}},
		"candidate missing":  {Kind: KindCandidate, From: "a1", Session: "call:a1:b2", Attempt: "x"},
		"no attempt":         {Kind: KindHangup, From: "a1", Session: "call:a1:b2"},
		"incoming no offer":  {Kind: KindIncomingOffer, From: "a1", Session: "call:a1:b2", Attempt: "x"},
		"bad description ty": {Kind: KindOffer, From: "a1", Session: "call:a1:b2", Attempt: "x", Description: &domain.Description{Type: "pranswer", SDP: "v=0"}},
	}
	for name, m := range cases {
		if err := m.Validate(); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("%s: expected ErrInvalidMessage, got %v", name, err)
		}
	}
}

func TestValidateCallerMustBeSender(t *testing.T) {
	m := offerMsg()
	m.From = "c3"
	if err := m.Validate(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
