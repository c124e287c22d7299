// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"bytes"
	"encoding/gob"
)

type bondCompactBinaryCodec struct{}

// BondCompactBinary implements the application/bond-compact-binary content
// type negotiated between fanout tiers. It does not reproduce Microsoft's
// Bond wire format; it is a self-consistent compact binary framing built
// with encoding/gob, sufficient for this repository's own structs to
// round-trip without a schema compiler in the build.
var BondCompactBinary Codec = bondCompactBinaryCodec{}

func (bondCompactBinaryCodec) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (bondCompactBinaryCodec) Decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (bondCompactBinaryCodec) ContentType() ContentType { return ContentTypeBondCompactBinary }
