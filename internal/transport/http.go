// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ClusterCockpit/cc-backend/internal/bufpool"
	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// HTTPTransport is the production Transport, a pooled net/http.Client
// POSTing to each leader's fanout endpoint.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport whose underlying
// http.Transport is reused across every call, the way the teacher's
// metric store client holds one long-lived http.Client rather than
// building one per request.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (t *HTTPTransport) Do(ctx context.Context, leader schema.ServerInfo, path string, body []byte, accept codec.ContentType) ([]byte, int, error) {
	url := fmt.Sprintf("http://%s:%d%s", leader.Hostname, leader.Port, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("[TRANSPORT]> building request to %s: %w", leader, err)
	}
	req.Header.Set("Content-Type", string(accept))
	req.Header.Set("Accept", string(accept))
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	res, err := t.client.Do(req)
	if err != nil {
		log.Debugf("TRANSPORT: request to %s failed: %s", leader, err.Error())
		return nil, 0, err
	}
	defer res.Body.Close()

	reader := res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, res.StatusCode, fmt.Errorf("[TRANSPORT]> opening gzip response from %s: %w", leader, err)
		}
		defer gz.Close()
		reader = gz
	}

	scratch := bufpool.Get(64 * 1024)[:64*1024]
	defer bufpool.Put(scratch)

	var buf bytes.Buffer
	// Wrapping both ends hides ReadFrom/WriteTo so the copy really goes
	// through the pooled scratch buffer.
	if _, err := io.CopyBuffer(struct{ io.Writer }{&buf}, struct{ io.Reader }{reader}, scratch); err != nil {
		return nil, res.StatusCode, fmt.Errorf("[TRANSPORT]> reading response from %s: %w", leader, err)
	}

	return buf.Bytes(), res.StatusCode, nil
}
