// Package oidckit verifies bearer tokens offline against an OIDC
// provider's JWKS, discovered from its well-known configuration.
package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// TokenVerifier validates access tokens from one issuer. Keys are
// fetched from the discovered JWKS endpoint and cached with background
// refresh for the life of the verifier.
type TokenVerifier struct {
	issuer  string
	jwksURL string
	cache   *jwk.Cache
	skew    time.Duration
}

// NewTokenVerifier discovers the issuer's JWKS endpoint and prepares a
// refreshing key cache. The context bounds discovery and owns the
// cache's refresh goroutine.
func NewTokenVerifier(ctx context.Context, issuer string, skew time.Duration) (*TokenVerifier, error) {
	trimmed := strings.TrimRight(issuer, "/")
	if trimmed == "" {
		return nil, errors.New("oidc: issuer is empty")
	}
	doc, err := discoverOIDC(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(doc.JWKSURI, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("oidc: register jwks: %w", err)
	}
	effectiveIssuer := doc.Issuer
	if effectiveIssuer == "" {
		effectiveIssuer = trimmed
	}
	return &TokenVerifier{issuer: effectiveIssuer, jwksURL: doc.JWKSURI, cache: cache, skew: skew}, nil
}

// Verify validates signature, issuer, and time claims, and returns the
// token's subject.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (string, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return "", fmt.Errorf("oidc: jwks fetch: %w", err)
	}
	token, err := jwt.ParseString(
		raw,
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("oidc: token rejected: %w", err)
	}
	sub := token.Subject()
	if sub == "" {
		return "", errors.New("oidc: token missing subject")
	}
	return sub, nil
}

func discoverOIDC(ctx context.Context, issuer string) (*discoveryDoc, error) {
	discoveryURL := issuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oidc: discovery failed: %s", resp.Status)
	}
	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	discoveredIssuer := strings.TrimRight(doc.Issuer, "/")
	if discoveredIssuer != "" && discoveredIssuer != issuer {
		return nil, fmt.Errorf("oidc: issuer mismatch: %s", doc.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("oidc: discovery missing jwks_uri")
	}
	return &doc, nil
}
