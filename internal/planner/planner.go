// Package planner decides how a payload is transferred and where its chunk
// boundaries fall.
//
// Plans are pure values computed from the payload size and configuration; the
// planner performs no I/O.
package planner

import (
	"fmt"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

const (
	// MiB is one mebibyte.
	MiB int64 = 1024 * 1024

	// MinChunkSize is the smallest part the object store accepts (except the last).
	MinChunkSize = 5 * MiB

	// DefaultChunkSize is the part size used when none is configured.
	DefaultChunkSize = 10 * MiB

	// DefaultThreshold is the payload size at which uploads switch to multipart.
	DefaultThreshold = 100 * MiB

	// MaxParts is the largest part count the object store accepts for one upload.
	MaxParts = 10000
)

// Strategy is the transfer strategy chosen for a payload.
type Strategy string

const (
	// StrategySingle uploads the payload with one PUT.
	StrategySingle Strategy = "single"

	// StrategyMultipart uploads the payload as independent parts.
	StrategyMultipart Strategy = "multipart"
)

// Chunk is one contiguous byte range of the payload.
type Chunk struct {
	// Index is the zero-based position of the chunk in the plan
	Index int

	// PartNumber is the one-based multipart part number
	PartNumber int32

	// Offset is the first byte of the chunk
	Offset int64

	// Length is the number of bytes in the chunk
	Length int64
}

// End returns the offset one past the last byte of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Length
}

// Plan is the transfer plan for one payload.
type Plan struct {
	// TotalSize is the payload size in bytes
	TotalSize int64

	// ChunkSize is the effective chunk size; every chunk but the last has this length
	ChunkSize int64

	// Strategy is single or multipart
	Strategy Strategy

	// Chunks are ordered by offset and cover [0, TotalSize) exactly once
	Chunks []Chunk
}

// Build computes the plan for a payload of totalSize bytes.
//
// Payloads smaller than threshold get a single chunk. Larger payloads are split
// into chunkSize pieces with the remainder in the last chunk. When the split would
// exceed MaxParts the chunk size is raised to the smallest MiB multiple that fits.
//
// Returns an INVALID_SIZE error when totalSize is not positive or chunkSize is
// below MinChunkSize.
func Build(totalSize, threshold, chunkSize int64) (*Plan, error) {
	if totalSize <= 0 {
		return nil, errors.Errorf("plan", errors.CodeInvalidSize, "payload size must be positive, got %d", totalSize)
	}
	if chunkSize < MinChunkSize {
		return nil, errors.Errorf("plan", errors.CodeInvalidSize,
			"chunk size %d is below the %d byte minimum", chunkSize, MinChunkSize)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if totalSize < threshold {
		return &Plan{
			TotalSize: totalSize,
			ChunkSize: totalSize,
			Strategy:  StrategySingle,
			Chunks:    []Chunk{{Index: 0, PartNumber: 1, Offset: 0, Length: totalSize}},
		}, nil
	}

	chunkSize = fitPartLimit(totalSize, chunkSize)
	count := partCount(totalSize, chunkSize)

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > totalSize {
			length = totalSize - offset
		}
		chunks = append(chunks, Chunk{
			Index:      i,
			PartNumber: int32(i + 1),
			Offset:     offset,
			Length:     length,
		})
	}

	return &Plan{
		TotalSize: totalSize,
		ChunkSize: chunkSize,
		Strategy:  StrategyMultipart,
		Chunks:    chunks,
	}, nil
}

// Validate checks the plan invariants: chunks are ordered, contiguous, never
// longer than ChunkSize, and sum exactly to TotalSize.
func (p *Plan) Validate() error {
	if len(p.Chunks) == 0 {
		return fmt.Errorf("plan has no chunks")
	}
	var next int64
	for i, c := range p.Chunks {
		if c.Index != i || c.PartNumber != int32(i+1) {
			return fmt.Errorf("chunk %d out of order", i)
		}
		if c.Offset != next {
			return fmt.Errorf("chunk %d starts at %d, want %d", i, c.Offset, next)
		}
		if c.Length <= 0 || c.Length > p.ChunkSize {
			return fmt.Errorf("chunk %d has length %d", i, c.Length)
		}
		next = c.End()
	}
	if next != p.TotalSize {
		return fmt.Errorf("chunks cover %d bytes, want %d", next, p.TotalSize)
	}
	return nil
}

// Parts returns the number of chunks in the plan.
func (p *Plan) Parts() int {
	return len(p.Chunks)
}

func partCount(totalSize, chunkSize int64) int {
	return int((totalSize + chunkSize - 1) / chunkSize)
}

func fitPartLimit(totalSize, chunkSize int64) int64 {
	if partCount(totalSize, chunkSize) <= MaxParts {
		return chunkSize
	}
	minimum := (totalSize + MaxParts - 1) / MaxParts
	return ((minimum + MiB - 1) / MiB) * MiB
}
