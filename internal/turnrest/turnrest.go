// Package turnrest mints coturn-compatible time-limited TURN credentials.
// The relay never touches media itself; it only hands browsers what they need
// to traverse NATs on their peer-to-peer leg.
//
// Algorithm (draft-uberti-behave-turn-rest, as implemented by coturn):
//
//	username   = <unix_expiry>:<prefix>:<client_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewGenerator(secret, prefix string, ttl time.Duration) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("credential ttl must be > 0")
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		return nil, errors.New("username prefix must be non-empty and must not contain ':'")
	}
	return &Generator{
		secret: []byte(secret),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Mint issues credentials bound to clientID, typically the WebSocket
// connection id, so TURN server logs correlate with relay logs.
func (g *Generator) Mint(clientID string) (Credentials, error) {
	if clientID == "" || strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("client id must be non-empty and must not contain ':'")
	}

	expiry := g.now().UTC().Add(g.ttl)
	username := fmt.Sprintf("%d:%s:%s", expiry.Unix(), g.prefix, clientID)

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiry,
	}, nil
}

// MintRandom issues credentials for an anonymous client.
func (g *Generator) MintRandom() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return g.Mint(hex.EncodeToString(b[:]))
}
