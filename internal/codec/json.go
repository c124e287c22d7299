// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import "encoding/json"

type jsonCodec struct{}

// JSON is the default Codec, a thin wrapper over encoding/json.
var JSON Codec = jsonCodec{}

func (jsonCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) ContentType() ContentType { return ContentTypeJSON }
