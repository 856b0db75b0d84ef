// Package connection implements the per-socket Connection and its state
// machine (spec.md §3, §4.5) and the incoming FIFO cache (spec.md §3), and
// exposes them to the Stream Handler and Dispatcher. The outgoing dedup
// cache lives in internal/stream (see cache.go).
package connection

import "sync/atomic"

// State is the connection's lifecycle state, per spec.md §3.
type State int32

const (
	Connecting State = iota
	Connected
	Authenticated
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Authenticated:
		return "Authenticated"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Authority is a monotonic privilege level compared against a handler's
// required minimum by the dispatcher.
type Authority int32

const (
	Guest Authority = iota
	User
	Moderator
	Admin
)

func (a Authority) String() string {
	switch a {
	case Guest:
		return "Guest"
	case User:
		return "User"
	case Moderator:
		return "Moderator"
	case Admin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// stateManager holds the connection's state and authority as single atomic
// words, per spec.md §5 ("no reader-writer lock is required").
type stateManager struct {
	state     atomic.Int32
	authority atomic.Int32
}

func newStateManager() *stateManager {
	sm := &stateManager{}
	sm.state.Store(int32(Connecting))
	sm.authority.Store(int32(Guest))
	return sm
}

func (sm *stateManager) State() State { return State(sm.state.Load()) }

func (sm *stateManager) SetState(s State) { sm.state.Store(int32(s)) }

// CompareAndSetState performs an atomic transition, returning false if the
// current state doesn't match from.
func (sm *stateManager) CompareAndSetState(from, to State) bool {
	return sm.state.CompareAndSwap(int32(from), int32(to))
}

func (sm *stateManager) Authority() Authority { return Authority(sm.authority.Load()) }

func (sm *stateManager) SetAuthority(a Authority) { sm.authority.Store(int32(a)) }
