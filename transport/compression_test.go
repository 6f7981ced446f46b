//go:build test

package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodec_Levels(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"msg_type":"results","results":[]}`), 50)

	for _, level := range []CompressionLevel{
		CompressionLevelFastest,
		CompressionLevelDefault,
		CompressionLevelBetter,
		CompressionLevelBest,
	} {
		t.Run(string(level), func(t *testing.T) {
			c, err := NewCodec(level, 64)
			require.NoError(t, err)

			compressed := c.Compress(payload)
			require.True(t, IsCompressed(compressed))
			require.Less(t, len(compressed), len(payload))

			decompressed, err := c.Decompress(compressed)
			require.NoError(t, err)
			require.Equal(t, payload, decompressed)
		})
	}
}

func TestCodec_NoneLeavesDataAlone(t *testing.T) {
	c, err := NewCodec(CompressionLevelNone, 0)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("x"), 1024)
	require.Equal(t, payload, c.Compress(payload))
}

func TestCodec_MinSize(t *testing.T) {
	c, err := NewCodec(CompressionLevelDefault, 128)
	require.NoError(t, err)

	small := []byte(`{"_id":"a"}`)
	require.Equal(t, small, c.Compress(small))
}

func TestCodec_UnknownLevel(t *testing.T) {
	_, err := NewCodec("ultra", 64)
	require.Error(t, err)
}

func TestMaybeDecompress_PlainPassthrough(t *testing.T) {
	plain := []byte(`{"command":"ECHO"}`)
	out, err := MaybeDecompress(plain)
	require.NoError(t, err)
	require.Equal(t, plain, out)

	out, err = MaybeDecompress(nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMaybeDecompress_Compressed(t *testing.T) {
	c, err := NewCodec(CompressionLevelFastest, 0)
	require.NoError(t, err)

	plain := []byte(`{"_id":"d1","process":{"session_id":"s1"}}`)
	out, err := MaybeDecompress(c.Compress(plain))
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestMaybeDecompress_CorruptFrame(t *testing.T) {
	_, err := MaybeDecompress([]byte{0x28, 0xB5, 0x2F, 0xFD, 0x00, 0x01})
	require.Error(t, err)
}
