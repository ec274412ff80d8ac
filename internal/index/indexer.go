// Package index builds the frame table of a session recording: it drives
// the instruction parser over the blob in fixed-size chunks, splits the
// stream on sync instructions, and flags the frames eligible to carry
// keyframe snapshots.
package index

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/guacplay/guacplay/internal/blob"
	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/metrics"
	"github.com/guacplay/guacplay/internal/protocol"
	"github.com/guacplay/guacplay/internal/util"
	"github.com/guacplay/guacplay/pkg/types"
)

const (
	// BlockSize is the ingest chunk size in bytes.
	BlockSize = 262144

	// KeyframeCharInterval is the minimum byte distance from the start of
	// the last keyframe-eligible frame to the end of the next one.
	KeyframeCharInterval = 16384

	// KeyframeTimeInterval is the minimum millisecond distance between
	// consecutive keyframe-eligible frames.
	KeyframeTimeInterval = 5000
)

// Events receives ingest notifications. Nil slots are tolerated. Callbacks
// run on the indexer goroutine, in stream order.
type Events struct {
	// OnProgress fires after each indexed frame with the recording duration
	// so far and the number of bytes parsed.
	OnProgress func(durationMs, bytesParsed int64)
	// OnLoad fires once when the whole blob has been indexed.
	OnLoad func()
	// OnError fires once on a parse failure; indexing stops but frames
	// indexed so far remain playable.
	OnError func(message string)
}

// Indexer ingests a recording in the background, appending to its Table.
type Indexer struct {
	src     blob.Source
	table   *Table
	events  Events
	metrics *metrics.Collector

	ctx     context.Context
	cancel  context.CancelFunc
	aborted atomic.Bool
	done    chan struct{}
}

// New creates an indexer over src. Call Start to begin ingest.
func New(src blob.Source, table *Table, events Events, collector *metrics.Collector) *Indexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Indexer{
		src:     src,
		table:   table,
		events:  events,
		metrics: collector,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start begins background ingest.
func (ix *Indexer) Start() {
	util.SafeGoWithName("indexer", ix.run)
}

// Abort latches the abort flag. Ingest stops at the next chunk boundary;
// frames already indexed remain usable. One-way.
func (ix *Indexer) Abort() {
	ix.aborted.Store(true)
	ix.cancel()
}

// Aborted reports whether Abort has been called.
func (ix *Indexer) Aborted() bool {
	return ix.aborted.Load()
}

// Done is closed when ingest ends, for any reason.
func (ix *Indexer) Done() <-chan struct{} {
	return ix.done
}

func (ix *Indexer) run() {
	defer close(ix.done)

	parser := protocol.NewParser()
	var pos int64        // next unread byte of the blob
	var frameStart int64 // start offset of the frame being accumulated
	var frameEnd int64   // cursor past the last parsed instruction

	// Last keyframe-eligible frame, for spacing decisions.
	var lastKeyStart, lastKeyTimestamp int64

	for {
		if ix.aborted.Load() {
			return
		}

		size := ix.src.Size()
		if pos >= size {
			if g, ok := ix.src.(blob.Growing); ok && !g.Complete() {
				if err := g.WaitChange(ix.ctx); err != nil {
					return
				}
				continue
			}
			logging.Info("recording indexed",
				"frames", ix.table.Len(),
				"keyframes", ix.table.Keyframes(),
				"bytes", pos,
				"duration_ms", ix.table.Duration(),
				logging.Component("indexer"))
			if ix.events.OnLoad != nil {
				ix.events.OnLoad()
			}
			return
		}

		end := min(pos+BlockSize, size)
		chunk, err := ix.src.Slice(ix.ctx, pos, end)
		if err != nil {
			if ix.aborted.Load() {
				return
			}
			ix.fail(fmt.Sprintf("read recording: %v", err))
			return
		}

		instrs, perr := parser.Feed(chunk)
		for _, in := range instrs {
			frameEnd += in.Size()
			if in.Opcode != protocol.OpcodeSync {
				continue
			}

			timestamp, err := syncTimestamp(in)
			if err != nil {
				ix.fail(err.Error())
				return
			}

			frame := types.Frame{
				Timestamp: timestamp,
				Start:     frameStart,
				End:       frameEnd,
			}
			if ix.table.Len() == 0 ||
				(frameEnd-lastKeyStart >= KeyframeCharInterval &&
					timestamp-lastKeyTimestamp >= KeyframeTimeInterval) {
				frame.Keyframe = true
				lastKeyStart = frame.Start
				lastKeyTimestamp = timestamp
			}
			ix.table.Append(frame)
			frameStart = frameEnd

			if ix.metrics != nil {
				ix.metrics.FrameIndexed(frame.Keyframe)
			}
			if ix.events.OnProgress != nil {
				ix.events.OnProgress(timestamp-ix.table.Origin(), frameEnd)
			}
		}
		if perr != nil {
			ix.fail(perr.Error())
			return
		}

		if ix.metrics != nil {
			ix.metrics.BytesParsed(end - pos)
		}
		pos = end
	}
}

func (ix *Indexer) fail(message string) {
	logging.Error("recording ingest failed",
		"message", message,
		"frames", ix.table.Len(),
		logging.Component("indexer"))
	if ix.metrics != nil {
		ix.metrics.ParseError()
	}
	if ix.events.OnError != nil {
		ix.events.OnError(message)
	}
}

// syncTimestamp extracts the millisecond timestamp from a sync instruction.
func syncTimestamp(in protocol.Instruction) (int64, error) {
	if len(in.Args) < 1 {
		return 0, fmt.Errorf("sync instruction without timestamp")
	}
	ts, err := strconv.ParseInt(in.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sync timestamp %q", in.Args[0])
	}
	return ts, nil
}
