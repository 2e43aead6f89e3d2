package ingest

import (
	"encoding/json"
	"fmt"
)

// EncodeBatch serializes records to a JSON array, LZ4-compresses the
// result, and AEAD-encrypts the compressed bytes — the three flush steps
// the sender performs before framing. It is a no-op returning an error for
// an empty slice: an empty batch is never produced, callers should check
// len(records) before calling.
func EncodeBatch(records []Record, aead *AEAD) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("ingest: refusing to encode an empty batch")
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling batch: %v", ErrFormat, err)
	}
	compressed, err := Compress(raw)
	if err != nil {
		return nil, err
	}
	encrypted, err := aead.Encrypt(compressed)
	if err != nil {
		return nil, err
	}
	return encrypted, nil
}

// DecodeBatch reverses EncodeBatch: AEAD-decrypt, LZ4-decompress with the
// decompression cap, then parse the JSON array. Each step maps its failure
// to the error kind the ingest-batch algorithm expects.
func DecodeBatch(encrypted []byte, aead *AEAD) ([]Record, error) {
	compressed, err := aead.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	raw, err := Decompress(compressed)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling batch: %v", ErrFormat, err)
	}
	return records, nil
}
