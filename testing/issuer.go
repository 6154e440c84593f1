// Package testing provides a mock identity realm for tests. It runs an
// HTTP server that serves an OIDC discovery document and JWKS, and signs
// tokens that validate against them, so handler and verifier tests need
// no real Keycloak.
//
// Example usage:
//
//	realm := testing.NewTestRealm()
//	defer realm.Close()
//
//	verifier, _ := oidckit.NewTokenVerifier(ctx, realm.URL(), 0)
//	token := realm.CreateToken("user-123")
package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// TestRealm is a fake Keycloak realm: discovery, JWKS, and token minting.
type TestRealm struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	kid    string
}

// NewTestRealm generates an RSA key pair and starts the realm server.
// Call Close when done.
func NewTestRealm() *TestRealm {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testing: generate RSA key: " + err.Error())
	}
	tr := &TestRealm{key: key, kid: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", tr.handleDiscovery)
	mux.HandleFunc("/jwks", tr.handleJWKS)
	tr.server = httptest.NewServer(mux)
	return tr
}

// URL returns the realm's issuer URL.
func (tr *TestRealm) URL() string { return tr.server.URL }

// Close shuts down the realm server.
func (tr *TestRealm) Close() { tr.server.Close() }

// CreateToken signs a token for the given subject, valid for an hour.
func (tr *TestRealm) CreateToken(subject string) string {
	return tr.CreateTokenWithExpiry(subject, time.Hour)
}

// CreateTokenWithExpiry signs a token with a custom lifetime. Negative
// lifetimes produce an already-expired token.
func (tr *TestRealm) CreateTokenWithExpiry(subject string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": tr.server.URL,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = tr.kid
	signed, err := token.SignedString(tr.key)
	if err != nil {
		panic("testing: sign token: " + err.Error())
	}
	return signed
}

func (tr *TestRealm) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":   tr.server.URL,
		"jwks_uri": tr.server.URL + "/jwks",
	})
}

func (tr *TestRealm) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &tr.key.PublicKey
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": tr.kid,
			"n":   base64URLEncode(pub.N),
			"e":   base64URLEncode(big.NewInt(int64(pub.E))),
		}},
	}
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	// Remove leading zeros for canonical form
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
