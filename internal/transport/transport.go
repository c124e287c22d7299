// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport carries fanout block requests to their leader nodes
// over HTTP. The Transport interface exists so the fanout engine never
// depends on net/http directly, matching the teacher's pattern of hiding
// process-wide HTTP clients behind a small injectable seam instead of a
// mutable package-level requester.
package transport

import (
	"context"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// Transport issues one opaque HTTP POST to a block's leader and returns
// the raw response body, the HTTP status code, and any transport-level
// error (connection refused, timeout, malformed response line). A
// non-nil error with a zero status code means the request never reached
// a distinguishable HTTP response; a non-nil error with a nonzero status
// code means a response arrived but its body could not be read or
// decompressed.
type Transport interface {
	Do(ctx context.Context, leader schema.ServerInfo, path string, body []byte, accept codec.ContentType) ([]byte, int, error)
}
