package orchestrate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestEmitterAssignsIncreasingSeq(t *testing.T) {
	var mu sync.Mutex
	var got []int64

	sink := SinkFunc(func(ctx context.Context, ev *Event) error {
		mu.Lock()
		got = append(got, ev.Seq)
		mu.Unlock()
		return nil
	})

	em := newEmitter(sink, 16, zap.NewNop())
	for i := 0; i < 10; i++ {
		em.emit(&Event{Type: EventTaskProgress, RunID: "r"})
	}
	em.close()

	require.Len(t, got, 10)
	for i, seq := range got {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestEmitterDropsProgressWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0

	sink := SinkFunc(func(ctx context.Context, ev *Event) error {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	em := newEmitter(sink, 2, zap.NewNop())
	// One event is consumed immediately and blocks in the sink; the
	// queue holds two more. Everything past that is dropped.
	for i := 0; i < 10; i++ {
		em.emitProgress(&Event{Type: EventTaskProgress, RunID: "r"})
	}
	close(release)
	em.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, delivered, 10)
	assert.GreaterOrEqual(t, int(em.dropped.Load()), 1)
}

func TestEmitterLifecycleNeverDropped(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []EventType

	sink := SinkFunc(func(ctx context.Context, ev *Event) error {
		<-release
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		return nil
	})

	// Tiny queue and a stalled sink: lifecycle emits block instead of
	// dropping, so once the sink drains every event is still there, in
	// order.
	em := newEmitter(sink, 1, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		em.emit(&Event{Type: EventRunStarted, RunID: "r"})
		em.emit(&Event{Type: EventTaskStarted, RunID: "r"})
		em.emit(&Event{Type: EventTaskCompleted, RunID: "r"})
		em.emit(&Event{Type: EventRunEnded, RunID: "r"})
	}()
	close(release)
	<-done
	em.close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventType{
		EventRunStarted, EventTaskStarted, EventTaskCompleted, EventRunEnded,
	}, got)
	assert.Zero(t, em.dropped.Load())
}

func TestEmitterCloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	delivered := 0

	sink := SinkFunc(func(ctx context.Context, ev *Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	em := newEmitter(sink, 64, zap.NewNop())
	for i := 0; i < 20; i++ {
		em.emit(&Event{Type: EventTaskCompleted, RunID: "r"})
	}
	em.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, delivered)
}
