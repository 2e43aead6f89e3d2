package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = 42
	}
	a, err := NewAEAD(key)
	require.NoError(t, err)

	plaintext := []byte("Hello, World!")
	ct, err := a.Encrypt(plaintext)
	require.NoError(t, err)
	pt, err := a.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestAEADWrongKeyFails(t *testing.T) {
	a1, err := NewAEADFromToken("proj_abc_xyz")
	require.NoError(t, err)
	a2, err := NewAEADFromToken("proj_other_token")
	require.NoError(t, err)

	ct, err := a1.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = a2.Decrypt(ct)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestAEADShortCiphertextFails(t *testing.T) {
	a, err := NewAEADFromToken("tok")
	require.NoError(t, err)
	_, err = a.Decrypt([]byte("short"))
	require.ErrorIs(t, err, ErrCrypto)
}

func TestDeriveKeyFromTokenIsDeterministic(t *testing.T) {
	k1 := DeriveKeyFromToken("proj_abc_xyz")
	k2 := DeriveKeyFromToken("proj_abc_xyz")
	require.Equal(t, k1, k2)

	k3 := DeriveKeyFromToken("different")
	require.NotEqual(t, k1, k3)
}

func TestAEADNonceIsRandomPerCall(t *testing.T) {
	a, err := NewAEADFromToken("tok")
	require.NoError(t, err)
	ct1, err := a.Encrypt([]byte("same message"))
	require.NoError(t, err)
	ct2, err := a.Encrypt([]byte("same message"))
	require.NoError(t, err)
	require.NotEqual(t, ct1[:nonceSize], ct2[:nonceSize])
}
