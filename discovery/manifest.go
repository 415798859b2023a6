// Package discovery builds and negotiates the JSON manifest an
// endpoint advertises at /discover: its services, their handlers, and
// the protocol version(s) the endpoint implements (spec.md §6).
package discovery

// ProtocolMode mirrors invocation.Mode at the discovery-JSON boundary
// (kept separate so the wire-facing shape doesn't depend on the
// invocation package's internals).
type ProtocolMode string

const (
	ModeBidi            ProtocolMode = "bidi"
	ModeRequestResponse ProtocolMode = "request-response"
)

// HandlerKind mirrors wire.HandlerKind at the discovery-JSON boundary.
type HandlerKind string

const (
	HandlerUnkeyed HandlerKind = "unkeyed"
	HandlerKeyed   HandlerKind = "keyed"
)

// HandlerDescriptor is one handler's discovery entry.
type HandlerDescriptor struct {
	Name string       `json:"name"`
	Kind HandlerKind  `json:"kind"`
	Mode ProtocolMode `json:"mode"`
}

// ServiceDescriptor is one service's discovery entry: its handlers and
// whether the service itself is keyed (a virtual object / workflow)
// or unkeyed.
type ServiceDescriptor struct {
	Name     string              `json:"name"`
	Keyed    bool                `json:"keyed"`
	Handlers []HandlerDescriptor `json:"handlers"`
}

// Manifest is the full /discover response body, serialized as JSON
// for protocol v1.
type Manifest struct {
	ProtocolVersions []string            `json:"protocolVersions"`
	Services         []ServiceDescriptor `json:"services"`
}
