package ingest

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"golang.org/x/crypto/chacha20poly1305"
)

const nonceSize = chacha20poly1305.NonceSize // 12 bytes

// AEAD wraps a ChaCha20-Poly1305 cipher keyed by a token-derived key. Encrypt
// and Decrypt are safe for concurrent use; the underlying cipher.AEAD holds
// no mutable state.
type AEAD struct {
	cipher interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewAEAD builds an AEAD from an already-derived 32-byte key.
func NewAEAD(key [32]byte) (*AEAD, error) {
	c, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("ingest: building cipher: %w", err)
	}
	return &AEAD{cipher: c}, nil
}

// NewAEADFromToken derives a key from an agent token and builds an AEAD. The
// derivation is keyed only by the token bytes so the server can recompute
// the same key purely from its stored token record, with no other shared
// secret in play.
func NewAEADFromToken(token string) (*AEAD, error) {
	return NewAEAD(DeriveKeyFromToken(token))
}

// DeriveKeyFromToken produces a 32-byte key deterministically from a token
// string using a splittable non-cryptographic hash: hash the token once,
// then hash (base, chunk index) four times to fill 4x8 bytes. This is not a
// replacement for HKDF or Argon2id; a production deployment would want to
// key from a server-side secret instead of the bare token.
func DeriveKeyFromToken(token string) (key [32]byte) {
	base := fnvSum64([]byte(token))
	var buf [16]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[0:8], base)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(i))
		chunkHash := fnvSum64(buf[:])
		binary.LittleEndian.PutUint64(key[i*8:i*8+8], chunkHash)
	}
	return
}

func fnvSum64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Encrypt generates a fresh random 12-byte nonce and returns
// nonce ‖ ciphertext_with_tag.
func (a *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ingest: generating nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce...)
	out = a.cipher.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt splits the nonce prefix and opens the remainder. It fails with
// ErrCrypto on a short input or a tag mismatch.
func (a *AEAD) Decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCrypto)
	}
	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plaintext, nil
}
