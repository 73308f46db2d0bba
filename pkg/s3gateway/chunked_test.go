package s3gateway

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkedReaderDecodesFramedBody(t *testing.T) {
	raw := "4;chunk-signature=deadbeef\r\nWiki\r\n" +
		"5;chunk-signature=beefdead\r\npedia\r\n" +
		"0;chunk-signature=00000000\r\n\r\n"

	r := NewChunkedReader(strings.NewReader(raw))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "Wikipedia", string(data))
}

func TestChunkedReaderDecodesWithTrailers(t *testing.T) {
	raw := "3\r\nfoo\r\n" +
		"0\r\n" +
		"x-amz-checksum-crc32:abcd\r\n" +
		"\r\n"

	r := NewChunkedReader(strings.NewReader(raw))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "foo", string(data))
}

func TestChunkedReaderEmptyBody(t *testing.T) {
	raw := "0\r\n\r\n"
	r := NewChunkedReader(strings.NewReader(raw))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, data)
}
