package ingestion

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

const nonceSize = 24

// EncryptToken seals an upstream (Hugging Face) access token under the
// process-wide secret encryption key, nonce-prefixed, the same AEAD
// construction pkg/codec uses for shard payloads (see DESIGN.md).
func EncryptToken(plaintext []byte, key [32]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "generate nonce", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

// DecryptToken opens a token sealed by EncryptToken.
func DecryptToken(sealed []byte, key [32]byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, anvilerr.New(anvilerr.Internal, "ingestion token ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &key)
	if !ok {
		return nil, anvilerr.New(anvilerr.Internal, "ingestion token decryption failed")
	}
	return plain, nil
}
