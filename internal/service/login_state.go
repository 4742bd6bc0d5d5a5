package service

import (
	"context"
	"log/slog"
)

// LoginState is one step of a login attempt.
type LoginState int

const (
	StateResolvingIdentity LoginState = iota
	StatePersisting
	StateCaching
	StateCacheFailed // non-terminal, rejoins at StateIssuingToken
	StateIssuingToken
	StateDone
)

func (s LoginState) String() string {
	switch s {
	case StateResolvingIdentity:
		return "resolving_identity"
	case StatePersisting:
		return "persisting"
	case StateCaching:
		return "caching"
	case StateCacheFailed:
		return "cache_failed"
	case StateIssuingToken:
		return "issuing_token"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s *SessionService) trace(ctx context.Context, log *slog.Logger, st LoginState) {
	if st == StateCacheFailed {
		log.WarnContext(ctx, "identity cache write failed, continuing login", "state", st.String())
		return
	}
	log.DebugContext(ctx, "login state", "state", st.String())
}
