// Package wire frames and encodes the binary message stream exchanged
// between an invocation and the runtime: a sequence of
// (header, body) pairs, the header carrying the message kind, flags,
// and body length.
package wire

// Kind identifies the variant carried by a Message.
type Kind uint16

const (
	KindStart Kind = iota + 1
	KindInput
	KindOutput
	KindEnd
	KindSuspension
	KindGetState
	KindGetStateKeys
	KindSetState
	KindClearState
	KindClearAllState
	KindSleep
	KindInvokeCall
	KindBackgroundInvokeCall
	KindAwakeable
	KindResolveAwakeable
	KindRejectAwakeable
	KindSideEffect
	KindCompletion
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindInput:
		return "Input"
	case KindOutput:
		return "Output"
	case KindEnd:
		return "End"
	case KindSuspension:
		return "Suspension"
	case KindGetState:
		return "GetState"
	case KindGetStateKeys:
		return "GetStateKeys"
	case KindSetState:
		return "SetState"
	case KindClearState:
		return "ClearState"
	case KindClearAllState:
		return "ClearAllState"
	case KindSleep:
		return "Sleep"
	case KindInvokeCall:
		return "InvokeCall"
	case KindBackgroundInvokeCall:
		return "BackgroundInvokeCall"
	case KindAwakeable:
		return "Awakeable"
	case KindResolveAwakeable:
		return "ResolveAwakeable"
	case KindRejectAwakeable:
		return "RejectAwakeable"
	case KindSideEffect:
		return "SideEffect"
	case KindCompletion:
		return "Completion"
	case KindAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// IsJournalEntry reports whether kind belongs to the journal-entry
// family (as opposed to a control message).
func (k Kind) IsJournalEntry() bool {
	switch k {
	case KindInput, KindOutput, KindGetState, KindSetState, KindClearState,
		KindClearAllState, KindGetStateKeys, KindSleep, KindInvokeCall,
		KindBackgroundInvokeCall, KindAwakeable, KindResolveAwakeable,
		KindRejectAwakeable, KindSideEffect:
		return true
	default:
		return false
	}
}

// Flags carries per-message bits set in the header.
type Flags uint16

const (
	FlagCompleted Flags = 1 << iota
	FlagRequiresAck
)

func (f Flags) Completed() bool    { return f&FlagCompleted != 0 }
func (f Flags) RequiresAck() bool  { return f&FlagRequiresAck != 0 }

// Message is a decoded wire frame: a kind, flags, and a raw body whose
// layout is interpreted by the caller according to Kind.
type Message struct {
	Kind  Kind
	Flags Flags
	Body  []byte
}

func (m Message) Completed() bool {
	return m.Flags.Completed()
}

// FailureCode enumerates the wire-level failure codes a Completion or
// Output body may carry.
type FailureCode uint16

const (
	FailureCodeNone FailureCode = iota
	FailureCodeInternal
	FailureCodeTerminal
	FailureCodeTimeout
	FailureCodeJournalMismatch
	FailureCodeProtocolDecode
)
