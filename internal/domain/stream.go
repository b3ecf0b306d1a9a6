package domain

// StreamEventKind distinguishes decoded relay frames.
type StreamEventKind int

// Stream event kinds.
const (
	EventToken StreamEventKind = iota
	EventError
	EventDone
)

func (k StreamEventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// StreamEvent is a decoded relay frame. Error and Done end a stream.
type StreamEvent struct {
	Kind  StreamEventKind
	Token string
	Err   string
}

// TokenEvent returns a token event.
func TokenEvent(text string) StreamEvent { return StreamEvent{Kind: EventToken, Token: text} }

// ErrorEvent returns a terminal error event.
func ErrorEvent(msg string) StreamEvent { return StreamEvent{Kind: EventError, Err: msg} }

// DoneEvent returns the terminal completion event.
func DoneEvent() StreamEvent { return StreamEvent{Kind: EventDone} }

// Terminal reports whether e ends its stream.
func (e StreamEvent) Terminal() bool { return e.Kind != EventToken }
