package blob

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/util"
)

// DefaultPollInterval is the stat fallback cadence when fsnotify is
// unavailable or silent.
const DefaultPollInterval = 500 * time.Millisecond

// Following is a file-backed source that tracks a capture still being
// written. Size grows as the writer appends; Stop marks the source complete
// once the capture is known to be finished.
type Following struct {
	f    *os.File
	path string

	mu       sync.Mutex
	size     int64
	complete bool
	changed  chan struct{} // closed and replaced on every size change

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// FollowFile opens path and watches it for growth. pollInterval <= 0 uses
// DefaultPollInterval.
func FollowFile(path string, pollInterval time.Duration) (*Following, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	s := &Following{
		f:       f,
		path:    path,
		size:    info.Size(),
		changed: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	util.SafeGoWithName("blob-watcher", func() { s.watch(pollInterval) })
	return s, nil
}

func (s *Following) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Following) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if start < 0 || end < start || end > s.Size() {
		return "", ErrOutOfRange
	}
	buf := make([]byte, end-start)
	if _, err := s.f.ReadAt(buf, start); err != nil {
		return "", fmt.Errorf("read recording [%d,%d): %w", start, end, err)
	}
	return string(buf), nil
}

// WaitChange blocks until the size changes, the source completes, or ctx is
// cancelled.
func (s *Following) WaitChange(ctx context.Context) error {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return nil
	}
	ch := s.changed
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete reports whether the capture has been marked finished.
func (s *Following) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Stop marks the capture finished. A final stat picks up any bytes written
// between the last event and the stop.
func (s *Following) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Close stops following and releases the file.
func (s *Following) Close() error {
	s.Stop()
	return s.f.Close()
}

// watch mirrors file growth into size. fsnotify write events trigger a
// stat; a ticker covers filesystems that drop events.
func (s *Following) watch(pollInterval time.Duration) {
	defer close(s.done)

	var events chan fsnotify.Event
	var errs chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(s.path); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		}
	} else {
		logging.Warn("fsnotify unavailable, polling recording",
			logging.Recording(s.path),
			logging.Err(err),
			logging.Component("blob"))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.refresh(true)
			return
		case ev := <-events:
			if ev.Has(fsnotify.Write) {
				s.refresh(false)
			}
		case err, ok := <-errs:
			if ok && err != nil {
				logging.Warn("recording watch error",
					logging.Recording(s.path),
					logging.Err(err),
					logging.Component("blob"))
			}
			if !ok {
				errs = nil
			}
		case <-ticker.C:
			s.refresh(false)
		}
	}
}

// refresh stats the file and broadcasts any growth.
func (s *Following) refresh(final bool) {
	info, err := os.Stat(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && info.Size() > s.size {
		s.size = info.Size()
		close(s.changed)
		s.changed = make(chan struct{})
	}
	if final && !s.complete {
		s.complete = true
		close(s.changed)
		s.changed = make(chan struct{})
	}
}
