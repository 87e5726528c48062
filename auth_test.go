package relay

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestCredentialJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c := NewCredential(signedToken(t, exp))

	if got := c.ExpiresAt(); !got.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", got, exp)
	}
	if c.Expired() {
		t.Fatal("token expiring in an hour should not be expired")
	}
	if c.ExpiresWithin(time.Minute) {
		t.Fatal("token should not expire within a minute")
	}
	if !c.ExpiresWithin(2 * time.Hour) {
		t.Fatal("token should expire within two hours")
	}
}

func TestCredentialExpiredToken(t *testing.T) {
	c := NewCredential(signedToken(t, time.Now().Add(-time.Minute)))
	if !c.Expired() {
		t.Fatal("past-expiry token should report expired")
	}
}

func TestCredentialOpaqueToken(t *testing.T) {
	c := NewCredential("not-a-jwt")
	if c.Token() != "not-a-jwt" {
		t.Fatalf("Token = %q", c.Token())
	}
	if !c.ExpiresAt().IsZero() {
		t.Fatalf("opaque token has expiry %v", c.ExpiresAt())
	}
	if c.Expired() || c.ExpiresWithin(time.Hour) {
		t.Fatal("opaque tokens never report expiry locally")
	}
}

func TestCredentialSetReplaces(t *testing.T) {
	c := NewCredential("old")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c.Set(signedToken(t, exp))
	if c.Token() == "old" {
		t.Fatal("Set did not replace the token")
	}
	if c.ExpiresAt().IsZero() {
		t.Fatal("Set did not reparse the expiry")
	}
}
