// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzhttp"
)

// CompressThreshold is the minimum response size, in bytes, compression
// is attempted above. Bodies smaller than this are sent uncompressed;
// the codec negotiation and framing overhead outweighs the savings.
const CompressThreshold = 1024

type acceptedEncoding struct {
	name string
	q    float64
}

// parseAcceptEncoding parses an Accept-Encoding header into codings
// ordered by descending q, the full precedence rule gzhttp's own
// substring match over the raw header does not implement.
func parseAcceptEncoding(header string) []acceptedEncoding {
	if header == "" {
		return nil
	}

	var out []acceptedEncoding
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name := part
		q := 1.0
		if i := strings.IndexByte(part, ';'); i >= 0 {
			name = strings.TrimSpace(part[:i])
			if v, ok := strings.CutPrefix(strings.TrimSpace(part[i+1:]), "q="); ok {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		if q <= 0 {
			continue
		}
		out = append(out, acceptedEncoding{name: strings.ToLower(name), q: q})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].q > out[j].q })
	return out
}

// preferredEncoding returns the highest-q encoding this server knows how
// to produce ("gzip" or "deflate"), or "" for identity.
func preferredEncoding(header string) string {
	for _, enc := range parseAcceptEncoding(header) {
		switch enc.name {
		case "gzip", "deflate":
			return enc.name
		case "*":
			return "gzip"
		}
	}
	return ""
}

// CompressHandler wraps h with §6's response compression. gzip goes
// through gzhttp's size-thresholded writer; deflate (which gzhttp does
// not speak) is produced by buffering the response and compressing it
// with klauspost/compress/flate once it clears CompressThreshold. The
// choice between them follows a full Accept-Encoding q-value parse.
func CompressHandler(h http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(CompressThreshold))
	if err != nil {
		panic(err) // only fails on invalid static options, never per-request
	}
	gzipped := wrap(h)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch preferredEncoding(r.Header.Get("Accept-Encoding")) {
		case "gzip":
			gzipped.ServeHTTP(w, r)
		case "deflate":
			serveDeflate(w, r, h)
		default:
			h.ServeHTTP(w, r)
		}
	})
}

func serveDeflate(w http.ResponseWriter, r *http.Request, h http.Handler) {
	rec := &bufferingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	h.ServeHTTP(rec, r)

	if rec.buf.Len() < CompressThreshold {
		w.WriteHeader(rec.status)
		w.Write(rec.buf.Bytes())
		return
	}

	var compressed bytes.Buffer
	fw, _ := flate.NewWriter(&compressed, flate.DefaultCompression)
	fw.Write(rec.buf.Bytes())
	fw.Close()

	w.Header().Set("Content-Encoding", "deflate")
	w.Header().Set("Content-Length", strconv.Itoa(compressed.Len()))
	w.WriteHeader(rec.status)
	w.Write(compressed.Bytes())
}

// bufferingResponseWriter defers every write so serveDeflate can decide,
// once the whole body is known, whether it clears CompressThreshold.
type bufferingResponseWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (b *bufferingResponseWriter) WriteHeader(status int) { b.status = status }
func (b *bufferingResponseWriter) Write(p []byte) (int, error) { return b.buf.Write(p) }
