package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
)

func TestIssueVerify(t *testing.T) {
	iss, err := NewIssuer("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	tk, err := iss.Issue(domain.Profile{ID: "a1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := iss.Verify(tk)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Party != "a1" || claims.Username != "alice" || claims.Subject != "a1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	iss, _ := NewIssuer("s3cret", time.Minute)
	other, _ := NewIssuer("other", time.Minute)
	tk, _ := iss.Issue(domain.Profile{ID: "a1"})

	if _, err := other.Verify(tk); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: err = %v", err)
	}
	if _, err := iss.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: err = %v", err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := iss.Verify(tk); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: err = %v", err)
	}
}

func TestIssueValidatesParty(t *testing.T) {
	iss, _ := NewIssuer("s3cret", 0)
	if _, err := iss.Issue(domain.Profile{ID: "a:b"}); !errors.Is(err, domain.ErrPartyIDReserved) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewIssuer("", 0); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("err = %v", err)
	}
}
