package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON parses b keeping numbers as json.Number, so 64-bit identifiers
// survive a decode/encode round trip without float64 precision loss.
func DecodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return v, nil
}

// EncodeJSON serializes a JSON-shaped value. json.Number values are written
// verbatim, preserving arbitrary-precision integers.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
