package session

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(secret string, clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "twag-api",
		Audience:      "twag-tap",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer("test-secret", func() time.Time { return now })

	token, subject, err := issuer.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" || subject == "" {
		t.Fatalf("expected non-empty token and subject")
	}

	validated, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validated != subject {
		t.Fatalf("expected subject %q, got %q", subject, validated)
	}
}

func TestTokenIssuerMintsDistinctSubjects(t *testing.T) {
	issuer := newTestIssuer("test-secret", nil)

	_, first, err := issuer.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, second, err := issuer.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("each session must get its own subject")
	}
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	issuer := newTestIssuer("test-secret", clock)
	other := newTestIssuer("other-secret", clock)

	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer("test-secret", func() time.Time { return now })

	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	late := newTestIssuer("test-secret", func() time.Time { return now.Add(2 * time.Hour) })
	if _, err := late.Validate(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken for expired token, got %v", err)
	}
}

func TestTokenIssuerRejectsWrongAudience(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	issuer := newTestIssuer("test-secret", clock)

	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "twag-api",
		Audience:      "another-service",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	token, _, err := foreign.Issue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken for wrong audience, got %v", err)
	}
}

func TestTokenIssuerRequiresSigningSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{})
	if _, _, err := issuer.Issue(); err == nil {
		t.Fatalf("expected error without a signing secret")
	}
	if _, err := issuer.Validate("anything"); err == nil {
		t.Fatalf("expected error without a signing secret")
	}
}
