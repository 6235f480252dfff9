package cluster

import (
	"fmt"
	"sync"

	iutil "github.com/go-sif/sifgraph/internal/util"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how row payloads are compressed on the wire
type Compression string

const (
	// CompressionLZ4 favours speed, and is the default
	CompressionLZ4 Compression = "lz4"
	// CompressionZstd favours ratio
	CompressionZstd Compression = "zstd"
	// CompressionNone sends payloads as-is
	CompressionNone Compression = "none"
)

func (c Compression) codec() (byte, error) {
	switch c {
	case CompressionLZ4, "":
		return iutil.LZ4Payload, nil
	case CompressionZstd:
		return iutil.ZstdPayload, nil
	case CompressionNone:
		return iutil.RawPayload, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", c)
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// encodePayload compresses raw with codec if it is at least threshold bytes long. The returned
// codec is RawPayload when the payload was left uncompressed.
func encodePayload(raw []byte, codec byte, threshold int) (byte, []byte, error) {
	if codec == iutil.RawPayload || len(raw) < threshold || len(raw) == 0 {
		return iutil.RawPayload, raw, nil
	}
	switch codec {
	case iutil.LZ4Payload:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("unable to compress payload: %w", err)
		}
		// incompressible
		if n == 0 || n >= len(raw) {
			return iutil.RawPayload, raw, nil
		}
		return iutil.LZ4Payload, dst[:n], nil
	case iutil.ZstdPayload:
		encoder, _, err := zstdCodecs()
		if err != nil {
			return 0, nil, err
		}
		return iutil.ZstdPayload, encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	default:
		return 0, nil, fmt.Errorf("unknown payload codec %d", codec)
	}
}

// decodePayload reverses encodePayload
func decodePayload(codec byte, data []byte, rawSize int) ([]byte, error) {
	switch codec {
	case iutil.RawPayload:
		if len(data) != rawSize {
			return nil, fmt.Errorf("payload has %d bytes, expected %d", len(data), rawSize)
		}
		return data, nil
	case iutil.LZ4Payload:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("unable to decompress lz4 payload: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 payload decompressed to %d bytes, expected %d", n, rawSize)
		}
		return out, nil
	case iutil.ZstdPayload:
		_, decoder, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		out, err := decoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("unable to decompress zstd payload: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd payload decompressed to %d bytes, expected %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload codec %d", codec)
	}
}
