package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNoncesRoundTrip(t *testing.T) {
	n := NewNonces([]byte("test-secret"), time.Hour)
	token, err := n.Issue("timer_update")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := n.Verify(token, "timer_update"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := n.Verify(token, "timer_delete"); !errors.Is(err, ErrNonceAction) {
		t.Fatalf("Verify other action = %v, want ErrNonceAction", err)
	}
}

func TestNoncesRejectInvalidTokens(t *testing.T) {
	n := NewNonces([]byte("test-secret"), time.Minute)
	token, err := n.Issue("timer_update")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewNonces([]byte("other-secret"), time.Minute)
	if err := other.Verify(token, "timer_update"); err == nil {
		t.Fatal("token verified with the wrong secret")
	}

	later := NewNonces([]byte("test-secret"), time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := later.Verify(token, "timer_update"); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expired token = %v, want ErrTokenExpired", err)
	}

	if err := n.Verify("not-a-token", "timer_update"); err == nil {
		t.Fatal("garbage token verified")
	}
}

func TestNoncesRejectUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	claims := NonceClaims{
		Action: "timer_update",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if err := NewNonces(secret, time.Hour).Verify(tokenStr, "timer_update"); err == nil {
		t.Fatal("expected verify to reject non-HS256 token")
	}
}
