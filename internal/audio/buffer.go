// Package audio provides the chunk buffer between the capture layer and the
// transcription engines. It owns no transcription logic; it only routes
// frames to whichever engine the selector has active.
package audio

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/stt"
)

// FeedFunc delivers one chunk downstream (the selector's FeedAudio).
type FeedFunc func(chunk stt.Chunk)

// Buffer is a bounded queue of capture frames with a single drain goroutine,
// so a briefly stalled consumer never blocks the capture path.
type Buffer struct {
	frames  chan stt.Chunk
	feed    FeedFunc
	log     zerolog.Logger
	dropped atomic.Int64
}

// NewBuffer creates a buffer holding up to size frames.
func NewBuffer(size int, feed FeedFunc, log zerolog.Logger) *Buffer {
	return &Buffer{
		frames: make(chan stt.Chunk, size),
		feed:   feed,
		log:    log,
	}
}

// Push enqueues one frame. Returns false when the buffer is full; the frame
// is dropped rather than blocking the caller.
func (b *Buffer) Push(chunk stt.Chunk) bool {
	select {
	case b.frames <- chunk:
		return true
	default:
		n := b.dropped.Add(1)
		if n%100 == 1 {
			b.log.Warn().Int64("dropped", n).Msg("audio buffer full, dropping frames")
		}
		return false
	}
}

// Dropped reports the number of frames dropped so far.
func (b *Buffer) Dropped() int64 { return b.dropped.Load() }

// Run drains frames to the feed function until ctx is cancelled. Frame
// order is preserved: a single goroutine consumes the queue.
func (b *Buffer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-b.frames:
			b.feed(chunk)
		}
	}
}
