package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/mbfit/internal/ir"
)

// Geometry blobs are JSON compressed with zstd. EncodeAll/DecodeAll are safe
// for concurrent use on a shared encoder/decoder.
var (
	blobEncoder = mustEncoder()
	blobDecoder = mustDecoder()
)

func mustEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	return enc
}

func mustDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
	return dec
}

// marshalGeometry converts a geometry to its stored blob form.
func marshalGeometry(g ir.Geometry) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal geometry: %w", err)
	}
	return blobEncoder.EncodeAll(data, nil), nil
}

// unmarshalGeometry parses a stored blob back into a geometry.
func unmarshalGeometry(blob []byte) (ir.Geometry, error) {
	data, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("unmarshal geometry: decompress: %w", err)
	}
	var g ir.Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal geometry: %w", err)
	}
	return g, nil
}

func cpInt(cp bool) int {
	if cp {
		return 1
	}
	return 0
}
