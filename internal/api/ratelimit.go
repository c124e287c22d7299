// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimited wraps h with a token-bucket limiter; a nil limiter is a
// no-op so callers never have to guard an unconfigured limit at the call
// site.
func rateLimited(limiter *rate.Limiter, h http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	}
}
