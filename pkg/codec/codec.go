// Package codec implements Anvil's Shard Codec: Reed-Solomon erasure
// coding over K data shards and M parity shards, with each data shard
// AEAD-encrypted before the algebraic encode so that no single shard (even
// up to K-1 of them) reveals plaintext.
//
// Grounded on eniz1806-VaultS3's internal/erasure engine (same
// klauspost/reedsolomon dependency, same encrypt-before-encode ordering)
// and storj-storj's secretbox-based eestream transform for the AEAD layer.
package codec

import (
	"crypto/rand"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

const nonceSize = 24

// Codec encodes/reconstructs one stripe at a time for a fixed (K, M)
// configuration and a process-wide 256-bit AEAD key.
type Codec struct {
	dataShards   int
	parityShards int
	key          [32]byte
}

// New builds a Codec for K data shards, M parity shards, and the given
// 256-bit encryption key.
func New(dataShards, parityShards int, key [32]byte) (*Codec, error) {
	if dataShards <= 0 || parityShards < 0 {
		return nil, fmt.Errorf("codec: invalid shard counts K=%d M=%d", dataShards, parityShards)
	}
	return &Codec{dataShards: dataShards, parityShards: parityShards, key: key}, nil
}

// Total returns K+M, the number of shards in one stripe.
func (c *Codec) Total() int { return c.dataShards + c.parityShards }

// DataShards returns K.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns M.
func (c *Codec) ParityShards() int { return c.parityShards }

// Encode takes K equally-sized plaintext data buffers and returns K+M
// buffers: the first K are the AEAD-encrypted ciphertexts (each with a
// random nonce prepended), the last M are the algebraic parity shards
// computed over those ciphertexts.
func (c *Codec) Encode(dataBuffers [][]byte) ([][]byte, error) {
	if len(dataBuffers) != c.dataShards {
		return nil, anvilerr.New(anvilerr.Internal, fmt.Sprintf("codec: expected %d data buffers, got %d", c.dataShards, len(dataBuffers)))
	}

	encrypted := make([][]byte, c.dataShards)
	cipherLen := -1
	for i, buf := range dataBuffers {
		sealed, err := c.seal(buf)
		if err != nil {
			return nil, anvilerr.Wrap(anvilerr.Internal, "codec: encrypt data shard failed", err)
		}
		encrypted[i] = sealed
		if cipherLen == -1 {
			cipherLen = len(sealed)
		} else if len(sealed) != cipherLen {
			// plaintext buffers must be equally sized per stripe contract;
			// guard against a caller violating it.
			return nil, anvilerr.New(anvilerr.Internal, "codec: data buffers must be equally sized")
		}
	}

	shards := make([][]byte, c.Total())
	copy(shards, encrypted)
	for i := c.dataShards; i < c.Total(); i++ {
		shards[i] = make([]byte, cipherLen)
	}

	enc, err := reedsolomon.New(c.dataShards, c.parityShards)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "codec: construct reedsolomon encoder failed", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "codec: encode failed", err)
	}
	return shards, nil
}

// Reconstruct takes K+M shards (nil for missing positions, at least K
// present) and returns the K original plaintext data buffers. It
// reconstructs any missing positions algebraically first, then
// AEAD-decrypts each of the K data positions.
func (c *Codec) Reconstruct(shards [][]byte) ([][]byte, error) {
	if len(shards) != c.Total() {
		return nil, anvilerr.New(anvilerr.Internal, fmt.Sprintf("codec: expected %d shards, got %d", c.Total(), len(shards)))
	}

	present := 0
	shardLen := -1
	for _, s := range shards {
		if s == nil {
			continue
		}
		present++
		if shardLen == -1 {
			shardLen = len(s)
		} else if len(s) != shardLen {
			return nil, anvilerr.New(anvilerr.Internal, "codec: shard lengths disagree")
		}
	}
	if present < c.dataShards {
		return nil, anvilerr.New(anvilerr.Internal, fmt.Sprintf("codec: need at least %d shards, have %d", c.dataShards, present))
	}

	work := make([][]byte, len(shards))
	copy(work, shards)

	enc, err := reedsolomon.New(c.dataShards, c.parityShards)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "codec: construct reedsolomon encoder failed", err)
	}
	if err := enc.Reconstruct(work); err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "codec: reconstruct failed", err)
	}

	out := make([][]byte, c.dataShards)
	for i := 0; i < c.dataShards; i++ {
		plain, err := c.open(work[i])
		if err != nil {
			return nil, anvilerr.Wrap(anvilerr.Internal, "codec: decrypt data shard failed", err)
		}
		out[i] = plain
	}
	return out, nil
}

func (c *Codec) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return sealed, nil
}

func (c *Codec) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed shard shorter than nonce")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, fmt.Errorf("AEAD authentication failed")
	}
	return plain, nil
}
