package wire

import (
	"encoding/binary"
	"fmt"
)

// HandlerKind distinguishes unkeyed (stateless) handlers from keyed
// (virtual-object / workflow) handlers that carry a routing key.
type HandlerKind uint8

const (
	HandlerUnkeyed HandlerKind = iota
	HandlerKeyed
)

// writer is a small append-only binary writer used to build message
// bodies. It never fails; callers only write in-range values.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *writer) str(s string) { w.bytes([]byte(s)) }
func (w *writer) bool(b bool) {
	if b {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// reader walks a body buffer produced by writer, returning
// ProtocolDecodeError on truncation.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) need(n int) error {
	if len(r.buf)-r.off < n {
		return NewProtocolDecodeError("truncated message body")
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n > maxBodyLen {
		return nil, NewProtocolDecodeError("field length exceeds maximum")
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return v, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// StartBody carries invocation identity, known entry count and the
// negotiated protocol version. It is the first message of a stream.
type StartBody struct {
	InvocationID     string
	ServiceName      string
	HandlerName      string
	HandlerKind      HandlerKind
	Key              string
	KnownEntries     uint32
	PartialState     bool
	ProtocolVersion  uint16
}

func (b StartBody) Encode() []byte {
	w := &writer{}
	w.str(b.InvocationID)
	w.str(b.ServiceName)
	w.str(b.HandlerName)
	w.u8(uint8(b.HandlerKind))
	w.str(b.Key)
	w.u32(b.KnownEntries)
	w.bool(b.PartialState)
	w.u16(b.ProtocolVersion)
	return w.buf
}

func DecodeStartBody(body []byte) (StartBody, error) {
	r := newReader(body)
	var b StartBody
	var err error
	if b.InvocationID, err = r.str(); err != nil {
		return b, err
	}
	if b.ServiceName, err = r.str(); err != nil {
		return b, err
	}
	if b.HandlerName, err = r.str(); err != nil {
		return b, err
	}
	kind, err := r.u8()
	if err != nil {
		return b, err
	}
	b.HandlerKind = HandlerKind(kind)
	if b.Key, err = r.str(); err != nil {
		return b, err
	}
	if b.KnownEntries, err = r.u32(); err != nil {
		return b, err
	}
	if b.PartialState, err = r.boolean(); err != nil {
		return b, err
	}
	if b.ProtocolVersion, err = r.u16(); err != nil {
		return b, err
	}
	return b, nil
}

// InputBody carries the handler's input payload.
type InputBody struct {
	Payload []byte
}

func (b InputBody) Encode() []byte {
	w := &writer{}
	w.bytes(b.Payload)
	return w.buf
}

func DecodeInputBody(body []byte) (InputBody, error) {
	r := newReader(body)
	payload, err := r.bytes()
	return InputBody{Payload: payload}, err
}

// OutputBody carries the handler's terminal result: either a success
// value or a failure code/message pair.
type OutputBody struct {
	Success        bool
	Value          []byte
	FailureCode    FailureCode
	FailureMessage string
}

func (b OutputBody) Encode() []byte {
	w := &writer{}
	w.bool(b.Success)
	w.bytes(b.Value)
	w.u16(uint16(b.FailureCode))
	w.str(b.FailureMessage)
	return w.buf
}

func DecodeOutputBody(body []byte) (OutputBody, error) {
	r := newReader(body)
	var b OutputBody
	var err error
	if b.Success, err = r.boolean(); err != nil {
		return b, err
	}
	if b.Value, err = r.bytes(); err != nil {
		return b, err
	}
	code, err := r.u16()
	if err != nil {
		return b, err
	}
	b.FailureCode = FailureCode(code)
	if b.FailureMessage, err = r.str(); err != nil {
		return b, err
	}
	return b, nil
}

// SuspensionBody lists the journal indices the invocation is blocked
// on at the moment it suspends.
type SuspensionBody struct {
	Indices []uint32
}

func (b SuspensionBody) Encode() []byte {
	w := &writer{}
	w.u32(uint32(len(b.Indices)))
	for _, idx := range b.Indices {
		w.u32(idx)
	}
	return w.buf
}

func DecodeSuspensionBody(body []byte) (SuspensionBody, error) {
	r := newReader(body)
	n, err := r.u32()
	if err != nil {
		return SuspensionBody{}, err
	}
	indices := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		idx, err := r.u32()
		if err != nil {
			return SuspensionBody{}, err
		}
		indices = append(indices, idx)
	}
	return SuspensionBody{Indices: indices}, nil
}

// StateEntryBody covers GetState, SetState and ClearState, all keyed
// by a state key and carrying an optional value.
type StateEntryBody struct {
	Key   string
	Value []byte
}

func (b StateEntryBody) Encode() []byte {
	w := &writer{}
	w.str(b.Key)
	w.bytes(b.Value)
	return w.buf
}

func DecodeStateEntryBody(body []byte) (StateEntryBody, error) {
	r := newReader(body)
	var b StateEntryBody
	var err error
	if b.Key, err = r.str(); err != nil {
		return b, err
	}
	if b.Value, err = r.bytes(); err != nil {
		return b, err
	}
	return b, nil
}

// StateKeysBody carries the result of a GetStateKeys entry.
type StateKeysBody struct {
	Keys []string
}

func (b StateKeysBody) Encode() []byte {
	w := &writer{}
	w.u32(uint32(len(b.Keys)))
	for _, k := range b.Keys {
		w.str(k)
	}
	return w.buf
}

func DecodeStateKeysBody(body []byte) (StateKeysBody, error) {
	r := newReader(body)
	n, err := r.u32()
	if err != nil {
		return StateKeysBody{}, err
	}
	keys := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return StateKeysBody{}, err
		}
		keys = append(keys, k)
	}
	return StateKeysBody{Keys: keys}, nil
}

// SleepBody carries the absolute wakeup time, journaled so replay
// reproduces the exact schedule rather than re-deriving it from
// wall-clock time.
type SleepBody struct {
	WakeupAtUnixMillis int64
}

func (b SleepBody) Encode() []byte {
	w := &writer{}
	w.u64(uint64(b.WakeupAtUnixMillis))
	return w.buf
}

func DecodeSleepBody(body []byte) (SleepBody, error) {
	r := newReader(body)
	v, err := r.u64()
	return SleepBody{WakeupAtUnixMillis: int64(v)}, err
}

// InvokeCallBody addresses an RPC call, background call or delayed
// call. InvokeAtUnixMillis is zero for immediate calls.
type InvokeCallBody struct {
	ServiceName        string
	HandlerName        string
	Key                string
	Payload            []byte
	InvokeAtUnixMillis int64
}

func (b InvokeCallBody) Encode() []byte {
	w := &writer{}
	w.str(b.ServiceName)
	w.str(b.HandlerName)
	w.str(b.Key)
	w.bytes(b.Payload)
	w.u64(uint64(b.InvokeAtUnixMillis))
	return w.buf
}

func DecodeInvokeCallBody(body []byte) (InvokeCallBody, error) {
	r := newReader(body)
	var b InvokeCallBody
	var err error
	if b.ServiceName, err = r.str(); err != nil {
		return b, err
	}
	if b.HandlerName, err = r.str(); err != nil {
		return b, err
	}
	if b.Key, err = r.str(); err != nil {
		return b, err
	}
	if b.Payload, err = r.bytes(); err != nil {
		return b, err
	}
	v, err := r.u64()
	if err != nil {
		return b, err
	}
	b.InvokeAtUnixMillis = int64(v)
	return b, nil
}

// AwakeableBody is the empty request body for an Awakeable entry; its
// id is derived from the invocation id and entry index, not carried
// on the wire.
type AwakeableBody struct{}

func (b AwakeableBody) Encode() []byte { return nil }

// ResolveAwakeableBody resolves an externally-addressable awakeable.
type ResolveAwakeableBody struct {
	ID      string
	Payload []byte
}

func (b ResolveAwakeableBody) Encode() []byte {
	w := &writer{}
	w.str(b.ID)
	w.bytes(b.Payload)
	return w.buf
}

func DecodeResolveAwakeableBody(body []byte) (ResolveAwakeableBody, error) {
	r := newReader(body)
	var b ResolveAwakeableBody
	var err error
	if b.ID, err = r.str(); err != nil {
		return b, err
	}
	if b.Payload, err = r.bytes(); err != nil {
		return b, err
	}
	return b, nil
}

// RejectAwakeableBody rejects an externally-addressable awakeable with
// a human-readable reason.
type RejectAwakeableBody struct {
	ID     string
	Reason string
}

func (b RejectAwakeableBody) Encode() []byte {
	w := &writer{}
	w.str(b.ID)
	w.str(b.Reason)
	return w.buf
}

func DecodeRejectAwakeableBody(body []byte) (RejectAwakeableBody, error) {
	r := newReader(body)
	var b RejectAwakeableBody
	var err error
	if b.ID, err = r.str(); err != nil {
		return b, err
	}
	if b.Reason, err = r.str(); err != nil {
		return b, err
	}
	return b, nil
}

// SideEffectResultBody carries the outcome of a side effect once
// journaled: either its value or a terminal failure.
type SideEffectResultBody struct {
	Success        bool
	Value          []byte
	FailureCode    FailureCode
	FailureMessage string
}

func (b SideEffectResultBody) Encode() []byte {
	w := &writer{}
	w.bool(b.Success)
	w.bytes(b.Value)
	w.u16(uint16(b.FailureCode))
	w.str(b.FailureMessage)
	return w.buf
}

func DecodeSideEffectResultBody(body []byte) (SideEffectResultBody, error) {
	r := newReader(body)
	var b SideEffectResultBody
	var err error
	if b.Success, err = r.boolean(); err != nil {
		return b, err
	}
	if b.Value, err = r.bytes(); err != nil {
		return b, err
	}
	code, err := r.u16()
	if err != nil {
		return b, err
	}
	b.FailureCode = FailureCode(code)
	if b.FailureMessage, err = r.str(); err != nil {
		return b, err
	}
	return b, nil
}

// CompletionBody resolves a pending journal entry by index.
type CompletionBody struct {
	Index          uint32
	Success        bool
	Value          []byte
	FailureCode    FailureCode
	FailureMessage string
}

func (b CompletionBody) Encode() []byte {
	w := &writer{}
	w.u32(b.Index)
	w.bool(b.Success)
	w.bytes(b.Value)
	w.u16(uint16(b.FailureCode))
	w.str(b.FailureMessage)
	return w.buf
}

func DecodeCompletionBody(body []byte) (CompletionBody, error) {
	r := newReader(body)
	var b CompletionBody
	var err error
	if b.Index, err = r.u32(); err != nil {
		return b, err
	}
	if b.Success, err = r.boolean(); err != nil {
		return b, err
	}
	if b.Value, err = r.bytes(); err != nil {
		return b, err
	}
	code, err := r.u16()
	if err != nil {
		return b, err
	}
	b.FailureCode = FailureCode(code)
	if b.FailureMessage, err = r.str(); err != nil {
		return b, err
	}
	return b, nil
}

// AckBody acknowledges a completed-on-append entry in modes that
// require an ack before the side-effect runner proceeds.
type AckBody struct {
	Index uint32
}

func (b AckBody) Encode() []byte {
	w := &writer{}
	w.u32(b.Index)
	return w.buf
}

func DecodeAckBody(body []byte) (AckBody, error) {
	r := newReader(body)
	idx, err := r.u32()
	return AckBody{Index: idx}, err
}

// validateKind is a defensive check used by higher layers before
// dispatching a decode; it gives a clearer error than a type assertion
// panic would.
func validateKind(got, want Kind) error {
	if got != want {
		return fmt.Errorf("wire: expected kind %s, got %s", want, got)
	}
	return nil
}
