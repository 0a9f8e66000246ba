package router

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor implements §4.2's "configurable compression algorithm" for
// non-ipc transports (the ipc shared buffer is already zero-copy and is
// never compressed).
type Compressor interface {
	Compress(payload []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// noneCompressor passes payloads through unchanged; selected when the
// router is configured with no compression algorithm.
type noneCompressor struct{}

func (noneCompressor) Compress(p []byte) ([]byte, error)   { return p, nil }
func (noneCompressor) Decompress(p []byte) ([]byte, error) { return p, nil }

// zstdCompressor compresses non-ipc payloads with zstd.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor builds a reusable zstd encoder/decoder pair.
func NewZstdCompressor() (Compressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("router: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("router: create zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (z *zstdCompressor) Compress(payload []byte) ([]byte, error) {
	return z.encoder.EncodeAll(payload, nil), nil
}

func (z *zstdCompressor) Decompress(payload []byte) ([]byte, error) {
	var out bytes.Buffer
	decoded, err := z.decoder.DecodeAll(payload, out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("router: zstd decode: %w", err)
	}
	return decoded, nil
}

// NoCompression returns a Compressor that never transforms payloads.
func NoCompression() Compressor { return noneCompressor{} }
