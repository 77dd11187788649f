package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	tok, err := v.Sign("acct-1", RoleAuthor, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ac, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ac.AccountID != "acct-1" || ac.Role != RoleAuthor {
		t.Errorf("got %+v", ac)
	}
}

func TestVerifyDefaultsToReader(t *testing.T) {
	v := NewVerifier("s3cret")
	tok, _ := v.Sign("acct-1", "", time.Hour)
	ac, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ac.Role != RoleReader {
		t.Errorf("role = %q, want reader", ac.Role)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret")
	expired, _ := v.Sign("acct-1", RoleReader, -time.Minute)
	foreign, _ := NewVerifier("other").Sign("acct-1", RoleAdmin, time.Hour)
	noSubject, _ := v.Sign("", RoleReader, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "acct-1"}).SignedString([]byte("s3cret"))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "acct-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))

	tests := map[string]string{
		"garbage":    "not-a-token",
		"expired":    expired,
		"wrong key":  foreign,
		"no subject": noSubject,
		"no expiry":  noExpiry,
		"wrong alg":  wrongAlg,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
