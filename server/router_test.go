package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/discovery"
	"github.com/BaSui01/durableflow/durable"
	"github.com/BaSui01/durableflow/invocation"
	"github.com/BaSui01/durableflow/wire"
)

const requestResponseContentType = "application/vnd.restate.invocation.v1"

func encodedStartAndInput(knownEntries uint32, payload []byte) []byte {
	start := wire.Message{Kind: wire.KindStart, Body: wire.StartBody{
		InvocationID: "inv-1",
		ServiceName:  "greeter",
		HandlerName:  "hello",
		KnownEntries: knownEntries,
	}.Encode()}
	input := wire.Message{Kind: wire.KindInput, Body: wire.InputBody{Payload: payload}.Encode()}
	return wire.EncodeAll([]wire.Message{start, input})
}

func helloHandler(ctx *durable.Context, input []byte) ([]byte, error) {
	return append([]byte("hello, "), input...), nil
}

func newTestRouter() *Router {
	r := NewRouter(nil, nil)
	r.RegisterService("greeter", false, RegisteredHandler{
		Name:    "hello",
		Kind:    discovery.HandlerUnkeyed,
		Mode:    invocation.ModeRequestResponse,
		Handler: helloHandler,
	})
	return r
}

func TestRouter_Discover(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/discover")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ServerHeaderValue, resp.Header.Get("x-restate-server"))

	var manifest discovery.Manifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&manifest))
	require.Len(t, manifest.Services, 1)
	assert.Equal(t, "greeter", manifest.Services[0].Name)
	require.Len(t, manifest.Services[0].Handlers, 1)
	assert.Equal(t, "hello", manifest.Services[0].Handlers[0].Name)
}

func TestRouter_Discover_NegotiatesAcceptHeader(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/discover", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "1.0.0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.0.0", resp.Header.Get("x-restate-protocol-version"))
}

func TestRouter_Discover_UnsupportedAcceptHeaderIs412(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/discover", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "9.9.9")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestRouter_UnknownPathIs404(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Invoke_UnknownServiceIs404(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke/nosuch/hello", bytes.NewReader(nil))
	req.Header.Set("content-type", requestResponseContentType)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Invoke_UnknownHandlerIs404(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke/greeter/nosuch", bytes.NewReader(nil))
	req.Header.Set("content-type", requestResponseContentType)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Invoke_MissingContentTypeIs415(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/invoke/greeter/hello", "", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRouter_Invoke_ValidatorRejectionIs401(t *testing.T) {
	r := NewRouter(rejectingValidator{}, nil)
	r.RegisterService("greeter", false, RegisteredHandler{
		Name:    "hello",
		Kind:    discovery.HandlerUnkeyed,
		Mode:    invocation.ModeRequestResponse,
		Handler: helloHandler,
	})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke/greeter/hello", bytes.NewReader(nil))
	req.Header.Set("content-type", requestResponseContentType)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type rejectingValidator struct{}

func (rejectingValidator) Validate(*http.Request) error { return fmt.Errorf("nope") }

func TestRouter_Invoke_RequestResponseSuccess(t *testing.T) {
	r := newTestRouter()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	body := encodedStartAndInput(1, []byte("world"))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke/greeter/hello", bytes.NewReader(body))
	req.Header.Set("content-type", requestResponseContentType)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ServerHeaderValue, resp.Header.Get("x-restate-server"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	msgs, err := wire.DecodeBuffer(buf.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	out, err := wire.DecodeOutputBody(msgs[0].Body)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "hello, world", string(out.Value))
}

func TestRouter_Invoke_RequestResponseArchivesOnComplete(t *testing.T) {
	arc := archive.NewMemoryArchive()
	r := NewRouterWithArchive(nil, nil, nil, nil, arc)
	r.RegisterService("greeter", false, RegisteredHandler{
		Name:    "hello",
		Kind:    discovery.HandlerUnkeyed,
		Mode:    invocation.ModeRequestResponse,
		Handler: helloHandler,
	})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	body := encodedStartAndInput(1, []byte("world"))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke/greeter/hello", bytes.NewReader(body))
	req.Header.Set("content-type", requestResponseContentType)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rec, err := arc.Get(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", rec.ServiceName)
	assert.Equal(t, "hello", rec.HandlerName)
	assert.NotEmpty(t, rec.Entries)
}

func TestParseInvokePath(t *testing.T) {
	service, handler, ok := parseInvokePath("/invoke/greeter/hello")
	require.True(t, ok)
	assert.Equal(t, "greeter", service)
	assert.Equal(t, "hello", handler)

	_, _, ok = parseInvokePath("/invoke/greeter")
	assert.False(t, ok)

	_, _, ok = parseInvokePath("/invoke//hello")
	assert.False(t, ok)

	_, _, ok = parseInvokePath("/invoke/greeter/")
	assert.False(t, ok)
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/invoke/greeter/hello", nil)
	assert.False(t, isWebSocketUpgrade(req))

	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	assert.True(t, isWebSocketUpgrade(req))
}
