package ingest

import "errors"

// Error kinds surfaced by the frame codec, AEAD layer, and batch ingestion
// path. Callers test with errors.Is; the concrete values carry no payload of
// their own, wrap with fmt.Errorf("...: %w", ErrX) for context.
var (
	// ErrProtocol covers magic/version/frame-type/length-cap violations on
	// the wire. The connection that produced it is no longer usable.
	ErrProtocol = errors.New("ingest: protocol violation")

	// ErrCrypto is an AEAD tag mismatch or a ciphertext shorter than the
	// nonce. It is recoverable at the batch level: callers trying multiple
	// keys should move on to the next one.
	ErrCrypto = errors.New("ingest: AEAD failure")

	// ErrAuth means no active agent key decrypted the batch.
	ErrAuth = errors.New("ingest: no active agent key authenticated this batch")

	// ErrFormat covers decompression-cap overflow, JSON parse failure, or a
	// record timestamp that would not parse.
	ErrFormat = errors.New("ingest: malformed batch payload")

	// ErrStore wraps persistence failures from the store adapter.
	ErrStore = errors.New("ingest: store failure")
)
