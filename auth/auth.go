// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth implements the client and server halves of the MCP
// authorization story: an OAuth 2.1 authorization-code client (see
// [OAuthHandler]) and the server-side bearer-token middleware below. The
// protocol engine itself never interprets tokens; it sees only the
// [TokenInfo] this package attaches to the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// ErrInvalidToken is returned by a [TokenVerifier] when the presented
// token is malformed, unknown, or revoked.
var ErrInvalidToken = errors.New("invalid token")

// ErrOAuth is returned by a [TokenVerifier] when token verification fails
// in a way the client should repair by re-entering the OAuth flow.
var ErrOAuth = errors.New("oauth error")

// TokenInfo holds the verified claims of a bearer token.
type TokenInfo struct {
	Scopes     []string
	Expiration time.Time
	// Extra holds verifier-specific claims that don't fit the fields above.
	Extra map[string]any
}

// A TokenVerifier checks a raw bearer token and returns the information
// carried by it. The *http.Request is provided for verifiers that need
// request context (audience checks, DPoP); it must not be modified.
type TokenVerifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// RequireBearerTokenOptions configures [RequireBearerToken].
type RequireBearerTokenOptions struct {
	// ResourceMetadataURL, if set, is advertised in the WWW-Authenticate
	// header of 401 and 403 responses, pointing clients at the protected
	// resource metadata they need to begin an OAuth flow.
	ResourceMetadataURL string
	// Scopes lists scopes that the token must include, all of them.
	Scopes []string
}

type tokenInfoKey struct{}

// TokenInfoFromContext returns the [TokenInfo] attached by
// [RequireBearerToken], or nil if the request did not pass through it.
func TokenInfoFromContext(ctx context.Context) *TokenInfo {
	info, _ := ctx.Value(tokenInfoKey{}).(*TokenInfo)
	return info
}

// verify checks the request's bearer token against verifier and opts. On
// success it returns the token info and ("", 0); on failure, a
// human-readable message and the HTTP status to reject with.
func verify(req *http.Request, verifier TokenVerifier, opts *RequireBearerTokenOptions) (*TokenInfo, string, int) {
	header := req.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return nil, "no bearer token", http.StatusUnauthorized
	}
	info, err := verifier(req.Context(), token, req)
	if err != nil {
		if errors.Is(err, ErrOAuth) {
			return nil, "oauth error", http.StatusBadRequest
		}
		return nil, "invalid token", http.StatusUnauthorized
	}
	if info.Expiration.IsZero() {
		return nil, "token missing expiration", http.StatusUnauthorized
	}
	if time.Now().After(info.Expiration) {
		return nil, "token expired", http.StatusUnauthorized
	}
	if opts != nil {
		for _, scope := range opts.Scopes {
			if !slices.Contains(info.Scopes, scope) {
				return nil, "insufficient scope", http.StatusForbidden
			}
		}
	}
	return info, "", 0
}

// RequireBearerToken returns middleware that rejects any request without a
// valid bearer token, as determined by verifier and opts. Verified token
// info is attached to the request context, retrievable with
// [TokenInfoFromContext]; handlers must not forward the inbound
// Authorization header to further upstream services.
func RequireBearerToken(verifier TokenVerifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			info, msg, code := verify(req, verifier, opts)
			if code != 0 {
				if opts != nil && opts.ResourceMetadataURL != "" && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
					w.Header().Set("WWW-Authenticate", "Bearer resource_metadata="+opts.ResourceMetadataURL)
				}
				http.Error(w, msg, code)
				return
			}
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), tokenInfoKey{}, info)))
		})
	}
}
