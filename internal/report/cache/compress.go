package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/dejavuplus/engine/pkg/types"
)

// ErrDecompression is returned when cache decompression fails.
// Use errors.Is(err, ErrDecompression) to check for decompression errors.
var ErrDecompression = errors.New("decompression failed")

// Compress compresses a payload using the specified algorithm.
// Returns compressed bytes and a marker identifying the algorithm used.
// If the payload is below threshold or algorithm is "none", returns the
// original with an empty marker.
func Compress(payload []byte, algorithm string) ([]byte, string, error) {
	if len(payload) < types.CompressionMinSize {
		return payload, "", nil
	}

	if algorithm == types.CompressionNone || algorithm == "" {
		return payload, "", nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, payload), types.MarkerSnappy, nil

	case types.CompressionLZ4:
		// LZ4 stream format embeds size information
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.MarkerLZ4, nil

	default:
		// Unknown algorithm - treat as no compression
		return payload, "", nil
	}
}

// Decompress restores a payload using its stored marker. An empty or unknown
// marker returns the payload as-is.
func Decompress(payload []byte, marker string) ([]byte, error) {
	switch marker {
	case types.MarkerSnappy:
		decompressed, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return decompressed, nil

	case types.MarkerLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return decompressed, nil

	default:
		return payload, nil
	}
}
