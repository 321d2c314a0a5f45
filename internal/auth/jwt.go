package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret. The alg
// allow-list matters: without it a token claiming alg=none would pass.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v *JWTVerifier) Verify(token string) error {
	_, err := v.VerifySubject(token)
	return err
}

// VerifySubject validates the token and returns its sub claim, which may be
// empty. Expiry is mandatory; nbf is honored when present.
func (v *JWTVerifier) VerifySubject(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}
