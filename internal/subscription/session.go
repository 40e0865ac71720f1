package subscription

import (
	"context"
	"sort"
	"sync"
)

type Kind int

const (
	KindPublicTrades Kind = iota
	KindOrderFills
)

func (k Kind) String() string {
	switch k {
	case KindPublicTrades:
		return "publicTrades"
	case KindOrderFills:
		return "orderFills"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	Kind       Kind     `json:"kind"`
	Generation uint64   `json:"generation"`
	Scope      []string `json:"scope"`
	Active     bool     `json:"active"`
	State      State    `json:"state"`
	Restarts   uint64   `json:"restarts"`
}

// session is the state of one subscription kind.
//
// fence guards generation and active. Driver loops dispatch while holding it
// for reading; every generation bump takes it for writing, so once a bump
// returns no loop from an older generation can dispatch again.
type session struct {
	kind Kind

	fence      sync.RWMutex
	generation uint64
	active     bool

	mu       sync.Mutex
	scope    map[string]struct{}
	state    State
	restarts uint64
	cancel   context.CancelFunc
	done     chan struct{}
	base     context.Context
}

func newSession(kind Kind) *session {
	return &session{
		kind:  kind,
		scope: make(map[string]struct{}),
		state: StateIdle,
	}
}

// current reports whether a loop started at gen is still authoritative.
func (s *session) current(gen uint64) bool {
	s.fence.RLock()
	defer s.fence.RUnlock()
	return s.active && s.generation == gen
}

// dispatchIfCurrent runs fn under the read fence when gen is authoritative.
func (s *session) dispatchIfCurrent(gen uint64, fn func()) bool {
	s.fence.RLock()
	defer s.fence.RUnlock()
	if !s.active || s.generation != gen {
		return false
	}
	fn()
	return true
}

// bump starts a new generation and marks the session active.
func (s *session) bump() uint64 {
	s.fence.Lock()
	defer s.fence.Unlock()
	s.generation++
	s.active = true
	return s.generation
}

func (s *session) isActive() bool {
	s.fence.RLock()
	defer s.fence.RUnlock()
	return s.active
}

func (s *session) deactivate() {
	s.fence.Lock()
	s.active = false
	s.fence.Unlock()
}

// scopeList returns the scope sorted. Caller holds mu.
func (s *session) scopeList() []string {
	out := make([]string, 0, len(s.scope))
	for id := range s.scope {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *session) info() SessionInfo {
	s.fence.RLock()
	gen, active := s.generation, s.active
	s.fence.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Kind:       s.kind,
		Generation: gen,
		Scope:      s.scopeList(),
		Active:     active,
		State:      s.state,
		Restarts:   s.restarts,
	}
}
