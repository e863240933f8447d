// Package codec is the single serialization boundary for session
// blobs and storage envelopes. Every map-heavy structure crosses
// process and storage boundaries through these pure functions instead
// of ad hoc conversions at call sites.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/samihalawa/psp-go/types"
)

// std sorts map keys, so encodings of the same value are byte-stable.
// Origin-keyed storage maps rely on this for round-trip comparisons.
var std = sonic.ConfigStd

// EncodeBlob serializes a session blob to its canonical JSON form.
func EncodeBlob(blob *types.SessionBlob) ([]byte, error) {
	data, err := std.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	return data, nil
}

// DecodeBlob parses canonical JSON back into a session blob.
func DecodeBlob(data []byte) (*types.SessionBlob, error) {
	var blob types.SessionBlob
	if err := std.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &blob, nil
}

// Encode serializes any envelope value with the same canonical
// encoder used for blobs.
func Encode(v interface{}) ([]byte, error) {
	return std.Marshal(v)
}

// Decode parses into the given envelope value.
func Decode(data []byte, v interface{}) error {
	return std.Unmarshal(data, v)
}

// Compress applies zstd to a serialized payload. This is the real
// implementation behind the storage-layer compression hook; the
// corresponding encryption hook is deliberately absent because the
// encryption engine operates above the storage boundary.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// ToMap converts a blob to its generic map form for path-addressed
// mutation, and FromMap converts back. The pair is the only sanctioned
// way to edit a blob by dot-path.
func ToMap(blob *types.SessionBlob) (map[string]interface{}, error) {
	data, err := EncodeBlob(blob)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := std.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("blob to map: %w", err)
	}
	return m, nil
}

// FromMap is the inverse of ToMap.
func FromMap(m map[string]interface{}) (*types.SessionBlob, error) {
	data, err := std.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("blob from map: %w", err)
	}
	return DecodeBlob(data)
}
