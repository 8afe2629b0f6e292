// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package util

import "fmt"

// Wrapf prefixes *errp, if non-nil, with a formatted message. It is meant
// to be deferred at the top of a function so that every returned error is
// qualified with the call that produced it:
//
//	defer util.Wrapf(&err, "Fetch(%q)", url)
func Wrapf(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}
