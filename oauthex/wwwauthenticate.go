// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements WWW-Authenticate challenge parsing.
// See https://www.rfc-editor.org/rfc/rfc9110.html#section-11.6.1.

//go:build mcp_go_client_oauth

package oauthex

import (
	"fmt"
	"strings"
)

// A challenge is one authentication challenge from a WWW-Authenticate
// header: a scheme (lower-cased) and its auth parameters (keys
// lower-cased, values unquoted).
type challenge struct {
	Scheme string
	Params map[string]string
}

// ParseWWWAuthenticate parses a set of WWW-Authenticate header values into
// their challenges. Parsing is forgiving where real servers are sloppy:
// parameters may be separated by commas with arbitrary whitespace, and
// token68 credentials (which carry no parameters) are ignored.
func ParseWWWAuthenticate(headers []string) ([]challenge, error) {
	var out []challenge
	for _, h := range headers {
		cs, err := parseOneHeader(h)
		if err != nil {
			return nil, fmt.Errorf("parsing WWW-Authenticate %q: %w", h, err)
		}
		out = append(out, cs...)
	}
	return out, nil
}

func parseOneHeader(h string) ([]challenge, error) {
	var out []challenge
	rest := strings.TrimSpace(h)
	for rest != "" {
		// A challenge starts with a scheme token.
		var scheme string
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			scheme, rest = rest[:i], strings.TrimSpace(rest[i+1:])
		} else {
			scheme, rest = rest, ""
		}
		scheme = strings.ToLower(strings.TrimSuffix(scheme, ","))
		if scheme == "" {
			return nil, fmt.Errorf("empty scheme")
		}
		c := challenge{Scheme: scheme, Params: map[string]string{}}

		// Parameters follow as comma-separated key=value pairs until the
		// next scheme token (a bare word with no '=').
		for rest != "" {
			item, r, ok := nextItem(rest)
			if !ok {
				break // next scheme
			}
			rest = r
			key, val, found := strings.Cut(item, "=")
			if !found {
				break
			}
			c.Params[strings.ToLower(strings.TrimSpace(key))] = unquote(strings.TrimSpace(val))
		}
		out = append(out, c)
	}
	return out, nil
}

// nextItem splits off the next comma-separated parameter from rest,
// respecting quoted strings. ok is false if the next element is not a
// key=value parameter (i.e. it begins a new challenge).
func nextItem(rest string) (item, remainder string, ok bool) {
	inQuotes := false
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '"':
			inQuotes = !inQuotes
		case '\\':
			if inQuotes {
				i++
			}
		case ',':
			if !inQuotes {
				item = strings.TrimSpace(rest[:i])
				remainder = strings.TrimSpace(rest[i+1:])
				return item, remainder, strings.Contains(item, "=")
			}
		}
	}
	item = strings.TrimSpace(rest)
	return item, "", strings.Contains(item, "=")
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
		s = strings.ReplaceAll(s, `\\`, `\`)
	}
	return s
}
