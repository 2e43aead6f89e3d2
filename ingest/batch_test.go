package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	aead, err := NewAEADFromToken("proj_abc_xyz")
	require.NoError(t, err)

	records := []Record{
		{TimeUnixNano: "1700000000000000000", ServiceName: "api", Body: "hello", SeverityNumber: 9},
	}
	enc, err := EncodeBatch(records, aead)
	require.NoError(t, err)

	got, err := DecodeBatch(enc, aead)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "api", got[0].ServiceName)
	require.Equal(t, "hello", got[0].Body)
}

func TestEncodeBatchRejectsEmpty(t *testing.T) {
	aead, err := NewAEADFromToken("tok")
	require.NoError(t, err)
	_, err = EncodeBatch(nil, aead)
	require.Error(t, err)
}

func TestDecodeBatchWrongKeyFails(t *testing.T) {
	a1, err := NewAEADFromToken("tok1")
	require.NoError(t, err)
	a2, err := NewAEADFromToken("tok2")
	require.NoError(t, err)

	enc, err := EncodeBatch([]Record{{TimeUnixNano: "1", ServiceName: "s", Body: "b"}}, a1)
	require.NoError(t, err)
	_, err = DecodeBatch(enc, a2)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	for _, b := range [][]byte{
		[]byte("hello world"),
		make([]byte, 0),
		[]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	} {
		c, err := Compress(b)
		require.NoError(t, err)
		d, err := Decompress(c)
		require.NoError(t, err)
		require.Equal(t, b, d)
	}
}
