package ingestion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptTokenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := EncryptToken([]byte("hf_super_secret_token"), key)
	require.NoError(t, err)

	plain, err := DecryptToken(sealed, key)
	require.NoError(t, err)
	require.Equal(t, "hf_super_secret_token", string(plain))
}

func TestDecryptTokenWrongKeyFails(t *testing.T) {
	var key, wrongKey [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	copy(wrongKey[:], []byte("fedcba9876543210fedcba9876543210"))

	sealed, err := EncryptToken([]byte("hf_super_secret_token"), key)
	require.NoError(t, err)

	_, err = DecryptToken(sealed, wrongKey)
	require.Error(t, err)
}

func TestDecryptTokenTooShortFails(t *testing.T) {
	var key [32]byte
	_, err := DecryptToken([]byte("short"), key)
	require.Error(t, err)
}
