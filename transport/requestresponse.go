package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/durableflow/invocation"
	"github.com/BaSui01/durableflow/wire"
)

// RequestResponseResult is the adapter's output: a status code, the
// headers the caller must set (content-type and x-restate-server per
// spec.md §6), and the concatenated emitted messages.
type RequestResponseResult struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HandleRequestResponse decodes request (the full input buffer),
// drives handler to completion through a fresh invocation.Machine in
// ModeRequestResponse, and returns the single response buffer. The
// machine never suspends in this mode while the handler is runnable
// (spec.md §4.5); if it somehow would, that is reported as an
// internal error rather than silently truncating the response.
func HandleRequestResponse(ctx context.Context, request []byte, handler invocation.Handler, serverHeader string, logger *zap.Logger, metrics invocation.Metrics) (RequestResponseResult, error) {
	return HandleRequestResponseWithTracer(ctx, request, handler, serverHeader, logger, metrics, nil)
}

// HandleRequestResponseWithTracer is HandleRequestResponse plus a
// Tracer, so the invocation.Machine it drives opens the invocation
// span spec.md's observability section calls for. Pass nil to skip
// tracing.
func HandleRequestResponseWithTracer(ctx context.Context, request []byte, handler invocation.Handler, serverHeader string, logger *zap.Logger, metrics invocation.Metrics, tracer trace.Tracer) (RequestResponseResult, error) {
	return HandleRequestResponseWithHooks(ctx, request, handler, serverHeader, logger, metrics, tracer, nil)
}

// HandleRequestResponseWithHooks is HandleRequestResponseWithTracer
// plus an onComplete hook wired onto the machine it drives, via
// invocation.Machine.SetOnComplete — the request-response path's
// equivalent of the bidirectional path getting the hook set directly
// on the *invocation.Machine it returns, since this path never
// exposes its machine to the caller. onComplete may be nil.
func HandleRequestResponseWithHooks(ctx context.Context, request []byte, handler invocation.Handler, serverHeader string, logger *zap.Logger, metrics invocation.Metrics, tracer trace.Tracer, onComplete func(invocation.CompletionSnapshot)) (RequestResponseResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	msgs, err := wire.DecodeBuffer(request)
	if err != nil {
		return RequestResponseResult{
			StatusCode: 500,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       []byte(fmt.Sprintf(`{"message":%q}`, err.Error())),
		}, nil
	}

	var buf bytes.Buffer
	var mu sync.Mutex
	emit := func(m wire.Message) error {
		mu.Lock()
		defer mu.Unlock()
		buf.Write(wire.Encode(m))
		return nil
	}

	machine := invocation.NewWithTelemetry(invocation.ModeRequestResponse, handler, emit, logger, metrics, tracer)
	if onComplete != nil {
		machine.SetOnComplete(onComplete)
	}

	for _, m := range msgs {
		if err := machine.Feed(m); err != nil {
			logger.Warn("request-response transport: feed failed", zap.Error(err))
		}
	}

	select {
	case <-machine.Done():
	case <-time.After(30 * time.Second):
		return RequestResponseResult{}, fmt.Errorf("invocation did not complete within the request-response deadline")
	case <-ctx.Done():
		return RequestResponseResult{}, ctx.Err()
	}

	mu.Lock()
	body := buf.Bytes()
	mu.Unlock()

	status := 200
	if machine.FatalCause() != nil {
		status = 500
	}

	return RequestResponseResult{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":    protocolContentType,
			"x-restate-server": serverHeader,
		},
		Body: body,
	}, nil
}

const protocolContentType = "application/vnd.restate.invocation.v1"
