package wire

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_EncodeDecodeRoundTrip is Property 1 of spec.md §8:
// decoding a buffer built from one encoded message always reproduces
// its kind, flags and body exactly, for every kind/flags/body
// combination the wire format can carry.
func TestProperty_EncodeDecodeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(m)) == [m]", prop.ForAll(
		func(kindOffset int, flagBits int, body string) bool {
			msg := Message{
				Kind:  Kind(uint16(KindStart) + uint16(kindOffset)),
				Flags: Flags(uint16(flagBits)),
				Body:  []byte(body),
			}

			got, err := DecodeBuffer(Encode(msg))
			if err != nil {
				t.Logf("decode failed: %v", err)
				return false
			}
			if len(got) != 1 {
				t.Logf("expected 1 message, got %d", len(got))
				return false
			}
			if got[0].Kind != msg.Kind || got[0].Flags != msg.Flags {
				t.Logf("header mismatch: got %+v, want %+v", got[0], msg)
				return false
			}
			return string(got[0].Body) == string(msg.Body)
		},
		gen.IntRange(0, int(KindAck-KindStart)),
		gen.IntRange(0, int(FlagCompleted|FlagRequiresAck)),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestProperty_EncodeDecodeBuffer_RoundTripSequence is Property 1
// extended to a whole buffer: any sequence of messages encoded with
// EncodeAll decodes back to the same sequence.
func TestProperty_EncodeDecodeBuffer_RoundTripSequence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encodeAll(ms)) == ms", prop.ForAll(
		func(kindOffsets []int, body string) bool {
			msgs := make([]Message, len(kindOffsets))
			for i, off := range kindOffsets {
				msgs[i] = Message{Kind: Kind(uint16(KindStart) + uint16(off)), Body: []byte(body)}
			}

			got, err := DecodeBuffer(EncodeAll(msgs))
			if err != nil {
				t.Logf("decode failed: %v", err)
				return false
			}
			if len(got) != len(msgs) {
				t.Logf("expected %d messages, got %d", len(msgs), len(got))
				return false
			}
			for i := range msgs {
				if got[i].Kind != msgs[i].Kind || string(got[i].Body) != string(msgs[i].Body) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(0, int(KindAck-KindStart))),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
