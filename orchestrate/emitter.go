package orchestrate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// emitter serializes events from concurrent task workers into one
// ordered stream. Workers enqueue; a single consumer goroutine assigns
// sequence numbers and forwards to the sink, so sink latency never
// blocks task execution.
//
// Lifecycle events are delivered reliably: a full queue backpressures
// the enqueuer. task_progress events are droppable, they are advisory
// status text and a slow sink must not stall workers.
type emitter struct {
	queue  chan *Event
	sink   Sink
	logger *zap.Logger

	seq     atomic.Int64
	dropped atomic.Int64

	done chan struct{}
	once sync.Once
}

func newEmitter(sink Sink, queueSize int, logger *zap.Logger) *emitter {
	if queueSize <= 0 {
		queueSize = 256
	}
	if sink == nil {
		sink = NewLoggerSink(logger)
	}
	e := &emitter{
		queue:  make(chan *Event, queueSize),
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
	go e.consume()
	return e
}

// sinkTimeout bounds delivery of one event so a stuck sink cannot wedge
// the drain on close.
const sinkTimeout = 5 * time.Second

func (e *emitter) consume() {
	defer close(e.done)

	for ev := range e.queue {
		ev.Seq = e.seq.Add(1)
		// The consumer owns its own context: a cancelled run still
		// drains its queued lifecycle events.
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := e.sink.Emit(ctx, ev)
		cancel()
		if err != nil {
			e.logger.Warn("event sink failed",
				zap.String("type", string(ev.Type)),
				zap.String("run_id", ev.RunID),
				zap.Error(err))
		}
	}
}

// emit enqueues a lifecycle event. Lifecycle events are never dropped,
// so a full queue blocks the enqueuer; the stall is bounded at one
// sinkTimeout per event queued ahead, and the queue holds EventQueueSize
// entries while a run produces at most 2n+3 lifecycle events for n
// tasks, so the path stays non-blocking at the default sizing.
func (e *emitter) emit(ev *Event) {
	ev.Timestamp = time.Now()
	e.queue <- ev
}

// emitProgress enqueues a task_progress event, dropping it when the
// queue is full.
func (e *emitter) emitProgress(ev *Event) {
	ev.Timestamp = time.Now()
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}

// close stops intake and waits for the consumer to drain the queue.
func (e *emitter) close() {
	e.once.Do(func() {
		close(e.queue)
	})
	<-e.done

	if n := e.dropped.Load(); n > 0 {
		e.logger.Debug("progress events dropped", zap.Int64("count", n))
	}
}
