package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func TestEncodeReconstructRoundTrip(t *testing.T) {
	c, err := New(4, 2, testKey())
	require.NoError(t, err)

	data := [][]byte{
		padTo([]byte("stripe-data-shard-zero--"), 32),
		padTo([]byte("stripe-data-shard-one---"), 32),
		padTo([]byte("stripe-data-shard-two---"), 32),
		padTo([]byte("stripe-data-shard-three-"), 32),
	}

	shards, err := c.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, 6)

	// Drop up to M=2 shards and reconstruct.
	partial := make([][]byte, len(shards))
	copy(partial, shards)
	partial[1] = nil
	partial[5] = nil

	recovered, err := c.Reconstruct(partial)
	require.NoError(t, err)
	require.Len(t, recovered, 4)
	for i := range data {
		require.True(t, bytes.Equal(data[i], recovered[i]), "shard %d mismatch", i)
	}
}

func TestReconstructFailsBelowThreshold(t *testing.T) {
	c, err := New(4, 2, testKey())
	require.NoError(t, err)

	data := [][]byte{
		padTo([]byte("a"), 16), padTo([]byte("b"), 16),
		padTo([]byte("c"), 16), padTo([]byte("d"), 16),
	}
	shards, err := c.Encode(data)
	require.NoError(t, err)

	partial := make([][]byte, len(shards))
	copy(partial, shards)
	partial[0] = nil
	partial[1] = nil
	partial[2] = nil // only 3 of 6 present, need 4

	_, err = c.Reconstruct(partial)
	require.Error(t, err)
}

func TestEncodeProducesDistinctCiphertextPerCall(t *testing.T) {
	c, err := New(2, 1, testKey())
	require.NoError(t, err)

	data := [][]byte{padTo([]byte("same"), 16), padTo([]byte("same"), 16)}
	s1, err := c.Encode(data)
	require.NoError(t, err)
	s2, err := c.Encode(data)
	require.NoError(t, err)

	// Random nonce per encrypt call means repeated encodes of identical
	// plaintext never produce identical ciphertext.
	require.False(t, bytes.Equal(s1[0], s2[0]))
}
