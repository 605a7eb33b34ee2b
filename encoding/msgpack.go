// Package encoding provides centralized serialization for change batches and
// overlay values. ALL msgpack operations go through this package so every
// producer and consumer decodes the same shapes.
//
// Thread Safety: Marshal, Unmarshal and Codec methods are safe for
// concurrent use.
//
// Type Preservation: when decoding into interface{}, msgpack strings decode
// as Go strings (not []byte) and maps as map[string]interface{}, which is
// what the leaf-path evaluator walks.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
