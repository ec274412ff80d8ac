// Package blob provides random-access byte sources for session recordings.
// A source is an immutable, possibly still-growing UTF-8 byte blob; slices
// are addressed by byte offset and returned as raw text, so a slice boundary
// may fall inside a multi-byte rune. Sources must tolerate concurrent Slice
// calls and must not hold a lock across I/O.
package blob

import (
	"context"
	"errors"
)

// ErrOutOfRange is returned when a slice request falls outside the blob.
var ErrOutOfRange = errors.New("blob: slice out of range")

// Source is a random-access view of a recording blob.
type Source interface {
	// Size returns the number of bytes currently available.
	Size() int64
	// Slice returns the bytes in [start, end) as text.
	Slice(ctx context.Context, start, end int64) (string, error)
}

// Growing is implemented by sources whose size can still increase. The
// indexer uses it to keep ingesting a capture that is being written.
type Growing interface {
	Source
	// WaitChange blocks until the size may have changed, the source is
	// complete, or the context is cancelled.
	WaitChange(ctx context.Context) error
	// Complete reports whether no further growth will occur.
	Complete() bool
}

// Memory is an in-memory source, complete from construction.
type Memory struct {
	data string
}

// NewMemory wraps data in a Source.
func NewMemory(data string) *Memory {
	return &Memory{data: data}
}

func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

func (m *Memory) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if start < 0 || end < start || end > int64(len(m.data)) {
		return "", ErrOutOfRange
	}
	return m.data[start:end], nil
}
