// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements Authorization Server Metadata discovery.
// See https://www.rfc-editor.org/rfc/rfc8414.html.

//go:build mcp_go_client_oauth

package oauthex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/mcpkit/corekit/internal/util"
)

// AuthServerMeta is authorization server metadata, as defined by RFC 8414
// (with the OpenID Connect Discovery fields that overlap it).
type AuthServerMeta struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	JWKSURI                            string   `json:"jwks_uri,omitempty"`
	RegistrationEndpoint               string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported             []string `json:"response_types_supported,omitempty"`
	ResponseModesSupported             []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	RevocationEndpoint                 string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint,omitempty"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported,omitempty"`
	ServiceDocumentation               string   `json:"service_documentation,omitempty"`
	UILocalesSupported                 []string `json:"ui_locales_supported,omitempty"`
	DeviceAuthorizationEndpoint        string   `json:"device_authorization_endpoint,omitempty"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
	ClientIDMetadataDocumentSupported  bool     `json:"client_id_metadata_document_supported,omitempty"`
	AuthorizationResponseIssParamSupported bool `json:"authorization_response_iss_parameter_supported,omitempty"`
}

// wellKnownAuthServerPaths are the metadata locations to probe, in order,
// relative to the issuer URL.
var wellKnownAuthServerPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

// GetAuthServerMeta retrieves authorization server metadata for issuerURL,
// probing the RFC 8414 and OpenID Connect well-known locations in order,
// using c (or http.DefaultClient if nil). It returns nil, nil if no
// well-known location serves metadata.
//
// Per the MCP authorization requirements, discovered metadata must
// advertise PKCE with the S256 code challenge method; metadata without it
// is an error.
func GetAuthServerMeta(ctx context.Context, issuerURL string, c *http.Client) (_ *AuthServerMeta, err error) {
	defer util.Wrapf(&err, "GetAuthServerMeta(%q)", issuerURL)

	iu, err := url.Parse(issuerURL)
	if err != nil {
		return nil, err
	}
	if err := checkURLScheme(issuerURL); err != nil {
		return nil, err
	}

	for _, wk := range wellKnownAuthServerPaths {
		mu := *iu
		// Per RFC 8414 section 3, the well-known prefix goes before any
		// issuer path component.
		mu.Path = wk + strings.TrimRight(iu.Path, "/")
		asm, err := getJSON[AuthServerMeta](ctx, c, mu.String(), 1<<20)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.Code == http.StatusNotFound {
				continue
			}
			return nil, err
		}
		if !slices.Contains(asm.CodeChallengeMethodsSupported, "S256") {
			return nil, fmt.Errorf("authorization server %q does not support PKCE S256", issuerURL)
		}
		return asm, nil
	}
	return nil, nil
}

// checkURLScheme rejects URLs whose scheme is neither http nor https,
// guarding against javascript: and data: URLs smuggled through metadata.
func checkURLScheme(u string) error {
	pu, err := url.Parse(u)
	if err != nil {
		return err
	}
	if pu.Scheme != "http" && pu.Scheme != "https" {
		return fmt.Errorf("URL %q has disallowed scheme %q", u, pu.Scheme)
	}
	return nil
}

// statusError is returned by getJSON for a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// getJSON issues a GET for u and decodes the JSON response body (up to
// limit bytes) into a T.
func getJSON[T any](ctx context.Context, c *http.Client, u string, limit int64) (*T, error) {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", u, err)
	}
	return &v, nil
}

// ProtectedResourceMetadata is protected resource metadata, as defined by
// RFC 9728.
type ProtectedResourceMetadata struct {
	Resource                           string   `json:"resource"`
	AuthorizationServers               []string `json:"authorization_servers,omitempty"`
	JWKSURI                            string   `json:"jwks_uri,omitempty"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported             []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported  []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                       string   `json:"resource_name,omitempty"`
	ResourceDocumentation              string   `json:"resource_documentation,omitempty"`
	ResourcePolicyURI                  string   `json:"resource_policy_uri,omitempty"`
	ResourceTOSURI                     string   `json:"resource_tos_uri,omitempty"`
	TLSClientCertificateBoundAccessTokens bool  `json:"tls_client_certificate_bound_access_tokens,omitempty"`
	AuthorizationDetailsTypesSupported []string `json:"authorization_details_types_supported,omitempty"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
	DPoPBoundAccessTokensRequired      bool     `json:"dpop_bound_access_tokens_required,omitempty"`
}
