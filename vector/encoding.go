package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// On-disk record layout: a 4-byte little-endian uint32 dimension prefix
// followed by that many 8-byte little-endian IEEE-754 doubles. No
// checksum and no framing beyond the prefix; existing data files depend
// on this exact layout.

const (
	dimPrefixSize = 4
	float64Size   = 8

	// maxDecodeDimension bounds the allocation on a corrupt prefix.
	maxDecodeDimension = 1 << 20
)

func encodedSize(dimension int) int64 {
	return dimPrefixSize + float64Size*int64(dimension)
}

func encodeEmbedding(embedding []float64) []byte {
	buf := make([]byte, encodedSize(len(embedding)))
	binary.LittleEndian.PutUint32(buf, uint32(len(embedding)))
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[dimPrefixSize+i*float64Size:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbeddingAt(r io.ReaderAt, offset int64) ([]float64, error) {
	var prefix [dimPrefixSize]byte
	if _, err := r.ReadAt(prefix[:], offset); err != nil {
		return nil, fmt.Errorf("read record prefix: %w", err)
	}

	dim := binary.LittleEndian.Uint32(prefix[:])
	if dim == 0 || dim > maxDecodeDimension {
		return nil, fmt.Errorf("corrupt record at offset %d: dimension %d", offset, dim)
	}

	buf := make([]byte, int(dim)*float64Size)
	if _, err := r.ReadAt(buf, offset+dimPrefixSize); err != nil {
		return nil, fmt.Errorf("read record body: %w", err)
	}

	embedding := make([]float64, dim)
	for i := range embedding {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*float64Size:]))
	}
	return embedding, nil
}
