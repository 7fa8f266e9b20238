// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxPartyIDLen  = 64
	MaxUsernameLen = 36
)

var (
	ErrPartyIDEmpty    = errors.New("party id empty")
	ErrPartyIDTooLong  = errors.New("party id too long")
	ErrPartyIDReserved = errors.New("party id contains reserved separator")
	ErrUsernameTooLong = errors.New("username too long")
)

// PartyID identifies one user taking part in calls.
type PartyID string

// Profile is the display information shown to the other side of a call.
type Profile struct {
	ID             PartyID `json:"id" validate:"required"`
	Username       string  `json:"username"`
	FullName       string  `json:"full_name"`
	ProfilePicture string  `json:"profile_picture,omitempty"`
}

// ValidatePartyID rejects ids that would make derived channel keys ambiguous.
func ValidatePartyID(id PartyID) error {
	if len(id) == 0 {
		return ErrPartyIDEmpty
	}
	if len(id) > MaxPartyIDLen {
		return ErrPartyIDTooLong
	}
	if strings.ContainsRune(string(id), ':') {
		return ErrPartyIDReserved
	}
	return nil
}

// NewProfile is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewProfile(id PartyID, username string) (*Profile, error) {
	if err := ValidatePartyID(id); err != nil {
		return nil, err
	}
	p := &Profile{ID: id}
	if err := p.SetUsername(username); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) SetUsername(username string) error {
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if username == "" {
		username = "User"
	}
	p.Username = username
	return nil
}

// DisplayName falls back the way the chat UI does: full name, username, id.
func (p Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Username != "":
		return p.Username
	default:
		return string(p.ID)
	}
}
