// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec implements the wire encodings negotiated between fanout
// tiers: JSON and a compact binary framing compatible with the
// application/bond-compact-binary content type.
package codec

// ContentType identifies a wire encoding by its HTTP media type.
type ContentType string

const (
	ContentTypeJSON               ContentType = "application/json"
	ContentTypeBondCompactBinary  ContentType = "application/bond-compact-binary"
)

// Codec encodes and decodes the request/response structs exchanged
// between fanout tiers.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	ContentType() ContentType
}

// ByContentType returns the Codec registered for a content type, or nil
// if none matches. An empty contentType (no Accept header) defaults to
// JSON, mirroring the teacher's lenient content negotiation.
func ByContentType(contentType ContentType) Codec {
	switch contentType {
	case "", ContentTypeJSON:
		return JSON
	case ContentTypeBondCompactBinary:
		return BondCompactBinary
	default:
		return nil
	}
}
