package transport

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionLevel defines the compression level to use.
// Maps to klauspost/compress/zstd levels.
type CompressionLevel string

const (
	// CompressionLevelNone disables compression entirely.
	CompressionLevelNone CompressionLevel = "none"

	// CompressionLevelFastest provides fastest compression (zstd level 1).
	CompressionLevelFastest CompressionLevel = "fastest"

	// CompressionLevelDefault provides balanced compression (zstd level 3).
	CompressionLevelDefault CompressionLevel = "default"

	// CompressionLevelBetter provides better compression (zstd level 7).
	CompressionLevelBetter CompressionLevel = "better"

	// CompressionLevelBest provides best compression (zstd level 11).
	CompressionLevelBest CompressionLevel = "best"
)

// Codec compresses outbound envelopes and transparently decompresses inbound
// ones. Plain JSON payloads pass through untouched, so compressed and
// uncompressed publishers can share a channel.
type Codec struct {
	level   CompressionLevel
	minSize int

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a Codec. minSize is the smallest payload that gets compressed.
func NewCodec(level CompressionLevel, minSize int) (*Codec, error) {
	c := &Codec{level: level, minSize: minSize}

	var encLevel zstd.EncoderLevel
	switch level {
	case CompressionLevelNone:
	case CompressionLevelFastest:
		encLevel = zstd.SpeedFastest
	case CompressionLevelDefault, "":
		encLevel = zstd.SpeedDefault
	case CompressionLevelBetter:
		encLevel = zstd.SpeedBetterCompression
	case CompressionLevelBest:
		encLevel = zstd.SpeedBestCompression
	default:
		return nil, fmt.Errorf("unknown compression level: %s", level)
	}

	var err error
	if level != CompressionLevelNone {
		c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return c, nil
}

// Compress returns data zstd-compressed, or unchanged when compression is off
// or data is below the minimum size.
func (c *Codec) Compress(data []byte) []byte {
	if c.encoder == nil || len(data) < c.minSize {
		return data
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress inflates zstd payloads and returns anything else as-is.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	return c.decoder.DecodeAll(data, make([]byte, 0, len(data)*3))
}

var (
	defaultCodec     *Codec
	defaultCodecOnce sync.Once
	defaultCodecErr  error
)

// MaybeDecompress decompresses data with a shared decoder when it carries the
// zstd magic number.
func MaybeDecompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	defaultCodecOnce.Do(func() {
		defaultCodec, defaultCodecErr = NewCodec(CompressionLevelDefault, 64)
	})
	if defaultCodecErr != nil {
		return nil, fmt.Errorf("decompressor not initialized: %w", defaultCodecErr)
	}
	return defaultCodec.Decompress(data)
}

// IsCompressed checks for the zstd magic number (0x28 0xB5 0x2F 0xFD).
func IsCompressed(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == 0x28 &&
		data[1] == 0xB5 &&
		data[2] == 0x2F &&
		data[3] == 0xFD
}
