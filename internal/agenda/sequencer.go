package agenda

import (
	"context"
	"sync"
)

// Sequencer hands out monotonically increasing tokens per scope so that only
// the most recent load may touch visible state. Beginning a load also cancels
// the previous in-flight load's context: superseded requests are told to stop,
// not merely ignored on arrival.
type Sequencer struct {
	mu      sync.Mutex
	tokens  map[Scope]uint64
	cancels map[Scope]context.CancelFunc
}

func NewSequencer() *Sequencer {
	return &Sequencer{
		tokens:  make(map[Scope]uint64),
		cancels: make(map[Scope]context.CancelFunc),
	}
}

// Begin issues the next token for the scope and a context the load must use
// for its network calls. Any previous in-flight load for the same scope is
// cancelled.
func (s *Sequencer) Begin(ctx context.Context, scope Scope) (uint64, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel := s.cancels[scope]; cancel != nil {
		cancel()
	}

	s.tokens[scope]++
	token := s.tokens[scope]

	loadCtx, cancel := context.WithCancel(ctx)
	s.cancels[scope] = cancel
	return token, loadCtx
}

// IsCurrent reports whether the token still owns the scope. Loads check this
// right after their network call resolves and again before committing state.
func (s *Sequencer) IsCurrent(scope Scope, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[scope] == token
}

// Finish releases the scope's cancel handle if the token still owns it, so a
// completed load does not leak its context.
func (s *Sequencer) Finish(scope Scope, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[scope] != token {
		return
	}
	if cancel := s.cancels[scope]; cancel != nil {
		cancel()
		delete(s.cancels, scope)
	}
}
