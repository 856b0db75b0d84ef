// Package events defines the tagged event variants a Connection publishes,
// per the design note in spec.md §9: rather than a mutable list of
// subscriber delegates (OnError, OnClose, OnProcess, OnPostProcess), each
// Connection owns one outgoing channel of a tagged Event, and subscribers
// are installed once at construction.
package events

// Kind tags the variant of an Event.
type Kind int

const (
	// Process signals that a raw payload has been cached and is ready for
	// the dispatch runtime to pop and handle.
	Process Kind = iota
	// PostProcess signals that a send completed successfully.
	PostProcess
	// Close signals the connection has moved to Disconnected.
	Close
	// Error signals a recoverable fault (e.g. decrypt failure); the
	// connection survives unless ErrorInfo.Fatal is set.
	Error
)

func (k Kind) String() string {
	switch k {
	case Process:
		return "Process"
	case PostProcess:
		return "PostProcess"
	case Close:
		return "Close"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrorInfo carries the detail payload for an Error event.
type ErrorInfo struct {
	Err   error
	Fatal bool
}

// Event is the single tagged envelope sent on a Connection's event channel.
type Event struct {
	Kind        Kind
	ConnID      string
	Payload     []byte // set for Process
	SentBytes   []byte // set for PostProcess
	ErrorDetail *ErrorInfo
}

// Bus is a small, fixed-capacity, non-blocking fan-out of Events to
// subscribers installed at construction time. Sends never block the
// publisher: a full subscriber channel drops the event being published
// rather than stall the connection's I/O task (unlike the incoming FIFO
// cache, which drops its oldest entry under overflow).
type Bus struct {
	subs []chan Event
}

// NewBus installs the given subscriber channels. The slice is not mutated
// after construction.
func NewBus(subscribers ...chan Event) *Bus {
	return &Bus{subs: subscribers}
}

// Publish fans e out to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
