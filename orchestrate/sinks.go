package orchestrate

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Sink receives the ordered event stream for one run. Implementations
// are called from a single goroutine, in causal order.
type Sink interface {
	Emit(ctx context.Context, ev *Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev *Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// ChannelSink forwards events onto a channel. The channel is closed by
// the caller, not the sink.
type ChannelSink struct {
	ch chan<- *Event
}

// NewChannelSink creates a sink writing to ch.
func NewChannelSink(ch chan<- *Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// Emit implements Sink.
func (s *ChannelSink) Emit(ctx context.Context, ev *Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoggerSink writes events to the log. Useful for debugging and for
// callers that did not supply a sink.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink logging at debug level.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerSink{logger: logger.With(zap.String("component", "progress"))}
}

// Emit implements Sink.
func (s *LoggerSink) Emit(_ context.Context, ev *Event) error {
	s.logger.Debug("progress event",
		zap.String("type", string(ev.Type)),
		zap.String("run_id", ev.RunID),
		zap.String("task_id", ev.TaskID),
		zap.Int64("seq", ev.Seq))
	return nil
}

// WebSocketSink streams events as JSON frames over a websocket
// connection.
type WebSocketSink struct {
	conn *websocket.Conn
}

// NewWebSocketSink creates a sink writing to conn. The caller owns the
// connection lifecycle.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Emit implements Sink.
func (s *WebSocketSink) Emit(ctx context.Context, ev *Event) error {
	return wsjson.Write(ctx, s.conn, ev)
}

// MultiSink fans one stream out to several sinks. A failing sink does
// not stop delivery to the others; the first error is returned.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev *Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
