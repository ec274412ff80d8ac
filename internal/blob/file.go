package blob

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

// File is a file-backed source. Reads go through ReadAt, so concurrent
// slices never contend on a file offset or a lock.
type File struct {
	f    *os.File
	size atomic.Int64
}

// OpenFile opens path as a complete (non-growing) source.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	s := &File{f: f}
	s.size.Store(info.Size())
	return s, nil
}

func (s *File) Size() int64 {
	return s.size.Load()
}

func (s *File) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if start < 0 || end < start || end > s.size.Load() {
		return "", ErrOutOfRange
	}
	buf := make([]byte, end-start)
	if _, err := s.f.ReadAt(buf, start); err != nil {
		return "", fmt.Errorf("read recording [%d,%d): %w", start, end, err)
	}
	return string(buf), nil
}

// Close releases the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
