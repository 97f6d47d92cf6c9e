package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func TestHMACVerifier(t *testing.T) {
	t.Parallel()
	v := NewHMACVerifier(testSecret)

	token, err := IssueLegacyToken(testSecret, "user-1", "u@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueLegacyToken: %v", err)
	}
	id, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "u@example.com" {
		t.Errorf("identity = %+v", id)
	}

	other, _ := IssueLegacyToken("another-secret", "user-1", "", time.Hour)
	if _, err := v.Validate(other); err == nil {
		t.Error("token signed with another secret was accepted")
	}

	noExpiry, _ := IssueLegacyToken(testSecret, "user-1", "", 0)
	if _, err := v.Validate(noExpiry); err != nil {
		t.Errorf("token without expiry rejected: %v", err)
	}
}

func TestHMACVerifier_RejectsExpiredAndAnonymous(t *testing.T) {
	t.Parallel()
	v := NewHMACVerifier(testSecret)

	claims := LegacyClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := v.Validate(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired token err = %v, want ErrTokenExpired", err)
	}

	anonymous, _ := IssueLegacyToken(testSecret, "", "", time.Hour)
	if _, err := v.Validate(anonymous); !errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
		t.Errorf("token without user err = %v", err)
	}
}

type staticVerifier struct {
	id  *Identity
	err error
}

func (s staticVerifier) Validate(string) (*Identity, error) { return s.id, s.err }

func TestChain(t *testing.T) {
	t.Parallel()

	if _, err := NewChain().Validate("x"); !errors.Is(err, ErrNoVerifier) {
		t.Errorf("empty chain err = %v, want ErrNoVerifier", err)
	}

	first := errors.New("jwks rejected")
	c := NewChain(nil, staticVerifier{err: first}, staticVerifier{id: &Identity{UserID: "u"}})
	if len(c) != 2 {
		t.Fatalf("nil verifier was kept: %d entries", len(c))
	}
	id, err := c.Validate("x")
	if err != nil || id.UserID != "u" {
		t.Fatalf("Validate = %+v, %v", id, err)
	}

	second := errors.New("hmac rejected")
	_, err = NewChain(staticVerifier{err: first}, staticVerifier{err: second}).Validate("x")
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("chain error %v does not carry both failures", err)
	}
}
