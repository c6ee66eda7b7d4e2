package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/stt"
)

func TestBufferPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int64
	b := NewBuffer(16, func(c stt.Chunk) {
		mu.Lock()
		got = append(got, c.TimestampMs)
		mu.Unlock()
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := int64(1); i <= 5; i++ {
		if !b.Push(stt.Chunk{TimestampMs: i}) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("drained %d frames, want 5", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, ts := range got {
		if ts != int64(i+1) {
			t.Fatalf("frame order = %v, want ascending", got)
		}
	}
}

func TestBufferDropsWhenFull(t *testing.T) {
	b := NewBuffer(2, func(stt.Chunk) {}, zerolog.Nop())
	// No drain goroutine running.

	if !b.Push(stt.Chunk{TimestampMs: 1}) || !b.Push(stt.Chunk{TimestampMs: 2}) {
		t.Fatal("first two pushes should succeed")
	}
	if b.Push(stt.Chunk{TimestampMs: 3}) {
		t.Error("Push should return false when full")
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
}
