package auth

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collabhub/presence-relay/internal/config"
)

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthMode: config.AuthModeNone})
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if v != nil {
		t.Fatal("none mode must return a nil verifier")
	}

	v, err = NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "k"})
	if err != nil {
		t.Fatalf("api_key: %v", err)
	}
	if _, ok := v.(APIKeyVerifier); !ok {
		t.Fatalf("api_key verifier type %T", v)
	}

	v, err = NewVerifier(config.Config{AuthMode: config.AuthModeJWT, JWTSecret: "s"})
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	if _, ok := v.(*JWTVerifier); !ok {
		t.Fatalf("jwt verifier type %T", v)
	}

	if _, err := NewVerifier(config.Config{AuthMode: "saml"}); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestCredentialFromQuery(t *testing.T) {
	cred, err := CredentialFromQuery(config.AuthModeNone, url.Values{"apiKey": {"x"}})
	if err != nil || cred != "" {
		t.Fatalf("none: cred=%q err=%v", cred, err)
	}

	cred, err = CredentialFromQuery(config.AuthModeAPIKey, url.Values{"apiKey": {"a"}})
	if err != nil || cred != "a" {
		t.Fatalf("api_key: cred=%q err=%v", cred, err)
	}
	_, err = CredentialFromQuery(config.AuthModeAPIKey, url.Values{"token": {"t"}})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("api_key without apiKey param: err=%v", err)
	}

	cred, err = CredentialFromQuery(config.AuthModeJWT, url.Values{"token": {"t"}})
	if err != nil || cred != "t" {
		t.Fatalf("jwt: cred=%q err=%v", cred, err)
	}
	_, err = CredentialFromQuery(config.AuthModeJWT, url.Values{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("jwt without token param: err=%v", err)
	}
}

func TestAPIKeyVerifier(t *testing.T) {
	v := APIKeyVerifier{Expected: "sekrit"}
	if err := v.Verify("sekrit"); err != nil {
		t.Fatalf("matching key: %v", err)
	}
	if err := v.Verify("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong key: err=%v", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty key: err=%v", err)
	}
	if err := (APIKeyVerifier{}).Verify("anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty expected key must never match: err=%v", err)
	}
}

func mustSignHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestJWTVerifier(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewJWTVerifier("secret")
	v.now = func() time.Time { return now }

	t.Run("valid token", func(t *testing.T) {
		token := mustSignHS256(t, "secret", jwt.MapClaims{
			"sub": "alice",
			"iat": now.Unix(),
			"exp": now.Add(5 * time.Minute).Unix(),
		})
		sub, err := v.VerifySubject(token)
		if err != nil {
			t.Fatalf("VerifySubject: %v", err)
		}
		if sub != "alice" {
			t.Fatalf("sub=%q, want alice", sub)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token := mustSignHS256(t, "secret", jwt.MapClaims{
			"exp": now.Add(-time.Second).Unix(),
		})
		if err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		token := mustSignHS256(t, "secret", jwt.MapClaims{"sub": "alice"})
		if err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("not yet valid", func(t *testing.T) {
		token := mustSignHS256(t, "secret", jwt.MapClaims{
			"nbf": now.Add(time.Minute).Unix(),
			"exp": now.Add(time.Hour).Unix(),
		})
		if err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mustSignHS256(t, "other", jwt.MapClaims{
			"exp": now.Add(time.Hour).Unix(),
		})
		if err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("alg none rejected", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"exp": now.Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign none: %v", err)
		}
		if err := v.Verify(unsigned); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if err := v.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err=%v, want ErrInvalidCredentials", err)
		}
	})
}
