// Package transport adapts the Invocation State Machine to the two
// transport shapes spec.md §6 names: a bidirectional duplex byte
// stream, and a request/response buffer pair.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/durableflow/invocation"
	"github.com/BaSui01/durableflow/wire"
)

// BidiConn is the minimal duplex byte-stream contract the Bidi
// transport needs; github.com/coder/websocket's *websocket.Conn
// satisfies it directly via the adapter below.
type BidiConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// wsConn adapts *websocket.Conn to BidiConn: one frame in, one frame
// out, both carrying the binary wire.Message stream. Writes are
// serialized with a mutex, mirroring
// agent/streaming/ws_adapter.go's WebSocketStreamConnection.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewWebSocketConn adapts an established coder/websocket connection to
// BidiConn.
func NewWebSocketConn(conn *websocket.Conn) BidiConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("connection closed")
	}
	if err := w.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}

// BidiTransport pumps wire frames between a BidiConn and an
// invocation.Machine until the invocation closes, suspends, or the
// connection drops. Closing the connection while the machine is
// Replaying or Processing tears down the handler task with no partial
// output, per spec.md §5 Cancellation; a Suspended close is a clean
// teardown either way.
type BidiTransport struct {
	conn    BidiConn
	machine *invocation.Machine
	logger  *zap.Logger
}

func NewBidiTransport(conn BidiConn, machine *invocation.Machine, logger *zap.Logger) *BidiTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BidiTransport{conn: conn, machine: machine, logger: logger}
}

// Run feeds decoded frames to the machine until ctx is cancelled, the
// connection errors, or the machine closes.
func (t *BidiTransport) Run(ctx context.Context) error {
	defer t.conn.Close()

	go func() {
		select {
		case <-t.machine.Done():
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-t.machine.Done():
			return t.machine.FatalCause()
		default:
		}

		data, err := t.conn.Read(ctx)
		if err != nil {
			return err
		}
		msgs, err := wire.DecodeBuffer(data)
		if err != nil {
			t.logger.Error("bidi transport: decode failed", zap.Error(err))
			return err
		}
		for _, m := range msgs {
			if err := t.machine.Feed(m); err != nil {
				t.logger.Warn("bidi transport: feed failed", zap.Error(err))
			}
		}
		t.machine.MaybeSuspend()

		select {
		case <-t.machine.Done():
			return t.machine.FatalCause()
		default:
		}
	}
}

// emitFunc builds the callback passed to invocation.New: every
// message the machine produces is framed and written to conn.
func emitFunc(ctx context.Context, conn BidiConn) func(wire.Message) error {
	return func(m wire.Message) error {
		return conn.Write(ctx, wire.Encode(m))
	}
}

// NewMachineOverBidi is a convenience constructor wiring a fresh
// invocation.Machine's Emit callback to conn. metrics may be nil.
func NewMachineOverBidi(ctx context.Context, conn BidiConn, handler invocation.Handler, logger *zap.Logger, metrics invocation.Metrics) *invocation.Machine {
	return NewMachineOverBidiWithTracer(ctx, conn, handler, logger, metrics, nil)
}

// NewMachineOverBidiWithTracer is NewMachineOverBidi plus a Tracer.
// tracer may be nil to skip tracing.
func NewMachineOverBidiWithTracer(ctx context.Context, conn BidiConn, handler invocation.Handler, logger *zap.Logger, metrics invocation.Metrics, tracer trace.Tracer) *invocation.Machine {
	return invocation.NewWithTelemetry(invocation.ModeBidirectional, handler, emitFunc(ctx, conn), logger, metrics, tracer)
}
