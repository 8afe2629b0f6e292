// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build mcp_go_client_oauth

package oauthex

import (
	"encoding/json"
	"net/http"
)

// NewFakeMCPServerMux returns a mux that serves the endpoints of a minimal
// OAuth 2.1 authorization server for tests: authorization server metadata
// (with PKCE S256 advertised, as MCP requires), plus stub authorize, token,
// and registration endpoints. The advertised issuer is derived from each
// request's Host header, so the mux works behind any test listener.
func NewFakeMCPServerMux() *http.ServeMux {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	issuer := func(r *http.Request) string { return "https://" + r.Host }

	metadata := func(w http.ResponseWriter, r *http.Request) {
		iss := issuer(r)
		writeJSON(w, &AuthServerMeta{
			Issuer:                        iss,
			AuthorizationEndpoint:         iss + "/authorize",
			TokenEndpoint:                 iss + "/token",
			RegistrationEndpoint:          iss + "/register",
			ResponseTypesSupported:        []string{"code"},
			GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
			CodeChallengeMethodsSupported: []string{"S256"},
			TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		})
	}
	mux.HandleFunc("/.well-known/oauth-authorization-server", metadata)
	mux.HandleFunc("/.well-known/openid-configuration", metadata)

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		redirect := r.URL.Query().Get("redirect_uri")
		state := r.URL.Query().Get("state")
		http.Redirect(w, r, redirect+"?code=fake-code&state="+state, http.StatusFound)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": "fake-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var meta ClientRegistrationMetadata
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, &ClientRegistrationResponse{
			ClientID:                   "fake-client-id",
			ClientSecret:               "fake-client-secret",
			ClientRegistrationMetadata: meta,
		})
	})

	return mux
}
