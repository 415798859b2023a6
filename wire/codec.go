package wire

import "encoding/binary"

// headerSize is the fixed byte width of a frame header: kind (2),
// flags (2), body length (4).
const headerSize = 8

const maxBodyLen = 1 << 28 // 256MiB, guards against a corrupt length field

// Encode serializes a single Message into its wire frame.
// Encode never fails for in-range values; Body length is bounded by
// the caller.
func Encode(m Message) []byte {
	out := make([]byte, headerSize+len(m.Body))
	binary.BigEndian.PutUint16(out[0:2], uint16(m.Kind))
	binary.BigEndian.PutUint16(out[2:4], uint16(m.Flags))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(m.Body)))
	copy(out[headerSize:], m.Body)
	return out
}

// EncodeAll concatenates the wire frames for a slice of messages, in
// order. Used by the request-response transport to build the single
// response buffer.
func EncodeAll(msgs []Message) []byte {
	total := 0
	for _, m := range msgs {
		total += headerSize + len(m.Body)
	}
	out := make([]byte, 0, total)
	for _, m := range msgs {
		out = append(out, Encode(m)...)
	}
	return out
}

// DecodeBuffer decodes every complete frame present in data. It
// returns ProtocolDecodeError on truncation, an unknown mandatory
// kind, or a length field that would overflow the buffer or
// maxBodyLen.
//
// DecodeBuffer is a pure transformation: it never retains references
// into data past the call (bodies are copied out).
func DecodeBuffer(data []byte) ([]Message, error) {
	var out []Message
	offset := 0
	for offset < len(data) {
		if len(data)-offset < headerSize {
			return nil, NewProtocolDecodeError("truncated header")
		}
		kind := Kind(binary.BigEndian.Uint16(data[offset : offset+2]))
		flags := Flags(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		bodyLen := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		if bodyLen > maxBodyLen {
			return nil, NewProtocolDecodeError("body length exceeds maximum")
		}
		offset += headerSize
		if uint64(offset)+uint64(bodyLen) > uint64(len(data)) {
			return nil, NewProtocolDecodeError("truncated body")
		}
		if !isKnownKind(kind) {
			return nil, NewProtocolDecodeError("unknown mandatory message kind")
		}
		body := make([]byte, bodyLen)
		copy(body, data[offset:offset+int(bodyLen)])
		out = append(out, Message{Kind: kind, Flags: flags, Body: body})
		offset += int(bodyLen)
	}
	return out, nil
}

func isKnownKind(k Kind) bool {
	return k >= KindStart && k <= KindAck
}
