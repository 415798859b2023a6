// Package server exposes the invocation core over HTTP: URL routing
// for /invoke/<serviceName>/<handlerName> and /discover, request
// signature validation, and the request-response/bidirectional
// transport bindings.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/discovery"
	"github.com/BaSui01/durableflow/invocation"
	"github.com/BaSui01/durableflow/transport"
)

// Metrics is the subset of durabletelemetry.Collector the Router needs
// to thread through to each invocation.Machine it creates.
type Metrics = invocation.Metrics

// ServerHeaderValue identifies the SDK build in every response's
// x-restate-server header, per spec.md §6.
const ServerHeaderValue = "durableflow/1.0"

// RegisteredHandler is one handler attached to a service: its
// dispatch function and whether it runs in bidirectional or
// request-response mode.
type RegisteredHandler struct {
	Name    string
	Kind    discovery.HandlerKind
	Mode    invocation.Mode
	Handler invocation.Handler
}

// Router dispatches /invoke and /discover requests across the
// registered services. It owns no invocation state itself — every
// request gets a fresh invocation.Machine.
type Router struct {
	services  map[string]map[string]RegisteredHandler
	validator SignatureValidator
	logger    *zap.Logger
	manifest  discovery.Manifest
	metrics   Metrics
	tracer    trace.Tracer
	archive   archive.Archive
}

// NewRouter builds an empty Router. Register services with
// RegisterService before calling Handler.
func NewRouter(validator SignatureValidator, logger *zap.Logger) *Router {
	return NewRouterWithMetrics(validator, logger, nil)
}

// NewRouterWithMetrics is NewRouter plus a Metrics sink threaded into
// every invocation.Machine the Router creates. metrics may be nil.
func NewRouterWithMetrics(validator SignatureValidator, logger *zap.Logger, metrics Metrics) *Router {
	return NewRouterWithTelemetry(validator, logger, metrics, nil)
}

// NewRouterWithTelemetry is NewRouterWithMetrics plus a Tracer threaded
// into every invocation.Machine the Router creates. tracer may be nil
// to skip tracing.
func NewRouterWithTelemetry(validator SignatureValidator, logger *zap.Logger, metrics Metrics, tracer trace.Tracer) *Router {
	r := newRouter(validator, logger, metrics, tracer)
	return r
}

// NewRouterWithArchive is NewRouterWithTelemetry plus an Archive: every
// invocation the Router drives to completion — success or failure, over
// either transport — is saved to arc via invocation.Machine's
// OnComplete hook (spec.md §4.12). arc may be nil to skip archiving,
// matching NewRouterWithTelemetry's behavior.
func NewRouterWithArchive(validator SignatureValidator, logger *zap.Logger, metrics Metrics, tracer trace.Tracer, arc archive.Archive) *Router {
	r := newRouter(validator, logger, metrics, tracer)
	r.archive = arc
	return r
}

func newRouter(validator SignatureValidator, logger *zap.Logger, metrics Metrics, tracer trace.Tracer) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NoopValidator{}
	}
	return &Router{
		services:  make(map[string]map[string]RegisteredHandler),
		validator: validator,
		logger:    logger,
		manifest:  discovery.Manifest{ProtocolVersions: []string{"1.0.0"}},
		metrics:   metrics,
		tracer:    tracer,
	}
}

// archiveOnComplete saves a completed invocation's journal snapshot to
// the Router's Archive, if one is configured. Wired as the Machine's
// OnComplete hook for every invocation this Router drives, regardless
// of transport.
func (r *Router) archiveOnComplete(snap invocation.CompletionSnapshot) {
	if r.archive == nil {
		return
	}
	err := r.archive.Save(context.Background(), archive.Record{
		InvocationID: snap.InvocationID,
		ServiceName:  snap.ServiceName,
		HandlerName:  snap.HandlerName,
		Key:          snap.Key,
		ArchivedAt:   time.Now(),
		Entries:      snap.Entries,
	})
	if err != nil {
		r.logger.Error("failed to archive completed invocation",
			zap.String("invocation_id", snap.InvocationID), zap.Error(err))
	}
}

// RegisterService attaches a service and its handlers to the router
// and updates the discovery manifest.
func (r *Router) RegisterService(serviceName string, keyed bool, handlers ...RegisteredHandler) {
	byName := make(map[string]RegisteredHandler, len(handlers))
	manifestHandlers := make([]discovery.HandlerDescriptor, 0, len(handlers))
	for _, h := range handlers {
		byName[h.Name] = h
		manifestHandlers = append(manifestHandlers, discovery.HandlerDescriptor{
			Name: h.Name,
			Kind: h.Kind,
			Mode: modeToDiscovery(h.Mode),
		})
	}
	r.services[serviceName] = byName
	r.manifest.Services = append(r.manifest.Services, discovery.ServiceDescriptor{
		Name:     serviceName,
		Keyed:    keyed,
		Handlers: manifestHandlers,
	})
}

func modeToDiscovery(m invocation.Mode) discovery.ProtocolMode {
	if m == invocation.ModeBidirectional {
		return discovery.ModeBidi
	}
	return discovery.ModeRequestResponse
}

// Handler returns the net/http.Handler that serves both /invoke and
// /discover, wrapped over h2c so HTTP/2 cleartext bidirectional
// streams work without TLS termination in front.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/discover", r.handleDiscover)
	mux.HandleFunc("/invoke/", r.handleInvoke)
	mux.HandleFunc("/", r.handleNotFound)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeJSONError(w, http.StatusNotFound, "not found")
}

func (r *Router) handleDiscover(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("x-restate-server", ServerHeaderValue)

	if accept := req.Header.Get("Accept"); accept != "" {
		version, err := discovery.NegotiateVersion(accept)
		if err != nil {
			writeJSONError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		w.Header().Set("x-restate-protocol-version", version)
	}

	body, err := json.Marshal(r.manifest)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (r *Router) handleInvoke(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("x-restate-server", ServerHeaderValue)

	if err := r.validator.Validate(req); err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	serviceName, handlerName, ok := parseInvokePath(req.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	handlers, ok := r.services[serviceName]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", serviceName))
		return
	}
	reg, ok := handlers[handlerName]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown handler %q", handlerName))
		return
	}

	contentType := req.Header.Get("content-type")
	if contentType == "" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "missing content-type")
		return
	}

	if strings.Contains(req.Header.Get("upgrade"), "websocket") || reg.Mode == invocation.ModeBidirectional && isWebSocketUpgrade(req) {
		r.handleBidiInvoke(w, req, reg)
		return
	}

	r.handleRequestResponseInvoke(w, req, reg)
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Connection"), "Upgrade") &&
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func (r *Router) handleRequestResponseInvoke(w http.ResponseWriter, req *http.Request, reg RegisteredHandler) {
	buf, err := io.ReadAll(req.Body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := transport.HandleRequestResponseWithHooks(req.Context(), buf, reg.Handler, ServerHeaderValue, r.logger, r.metrics, r.tracer, r.archiveOnComplete)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

func (r *Router) handleBidiInvoke(w http.ResponseWriter, req *http.Request, reg RegisteredHandler) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Error("websocket accept failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), 24*time.Hour)
	defer cancel()

	bidiConn := transport.NewWebSocketConn(conn)
	machine := transport.NewMachineOverBidiWithTracer(ctx, bidiConn, reg.Handler, r.logger, r.metrics, r.tracer)
	machine.SetOnComplete(r.archiveOnComplete)
	t := transport.NewBidiTransport(bidiConn, machine, r.logger)
	if err := t.Run(ctx); err != nil {
		r.logger.Warn("bidi invocation ended", zap.Error(err))
	}
}

func parseInvokePath(path string) (service, handler string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/invoke/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
