// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
)

// ErrNoProgressToken is returned by [ServerRequest.Progress] when the
// originating request carried no progress token in its _meta field, so
// there is nothing to report against.
var ErrNoProgressToken = errors.New("mcp: request carries no progress token")

// Progress emits a progress notification tied to the request that produced
// r, if and only if the caller attached a progress token to that request.
// progress and total follow spec.md's convention of monotonically
// non-decreasing values within [0, total]; total of zero means unknown.
func (r *ServerRequest[P]) Progress(ctx context.Context, msg string, progress, total float64) error {
	token, ok := r.Params.GetMeta()[progressTokenKey]
	if !ok {
		return ErrNoProgressToken
	}
	return r.Session.NotifyProgress(ctx, &ProgressNotificationParams{
		ProgressToken: token,
		Message:       msg,
		Progress:      progress,
		Total:         total,
	})
}
