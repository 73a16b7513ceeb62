package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	sec := "secret123"
	id := Identity{ID: "user-1", Email: "u@example.com", IsActive: true}

	tok, err := Mint(sec, id, time.Now().Add(5*time.Minute))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	got, err := NewVerifier(sec).Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != id.ID || got.Email != id.Email || !got.IsActive {
		t.Fatalf("identity mismatch: %+v", got)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	_, err := NewVerifier("s").Verify("")
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, _ := Mint("secret-a", Identity{ID: "u", IsActive: true}, time.Now().Add(time.Minute))
	_, err := NewVerifier("secret-b").Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	tok, _ := Mint("sec", Identity{ID: "u", IsActive: true}, time.Now().Add(-time.Minute))
	_, err := NewVerifier("sec").Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyInactiveUser(t *testing.T) {
	tok, _ := Mint("sec", Identity{ID: "u", IsActive: false}, time.Now().Add(time.Minute))
	_, err := NewVerifier("sec").Verify(tok)
	if !errors.Is(err, ErrInactiveUser) {
		t.Fatalf("expected ErrInactiveUser, got %v", err)
	}
}
