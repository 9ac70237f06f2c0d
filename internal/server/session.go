// Package server implements the per-connection protocol state machine that
// validates inbound events before they reach the shared room state.
package server

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxTextLength is the longest accepted message, in characters,
// after surrounding whitespace is trimmed.
const DefaultMaxTextLength = 1000

// SessionState is the protocol state of one connection.
type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ActionKind tells the caller what a handled event asks of the room.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionJoin
	ActionPost
)

// Action is the outcome of a successfully handled event. Value holds the
// trimmed display name for ActionJoin and the trimmed text for ActionPost.
type Action struct {
	Kind  ActionKind
	Value string
}

// Session tracks the protocol state of a single connection. It is owned by
// the connection's read goroutine and is not safe for concurrent use.
type Session struct {
	state         SessionState
	maxTextLength int
}

// NewSession returns a session in the unjoined state.
func NewSession(maxTextLength int) *Session {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	return &Session{state: StateUnjoined, maxTextLength: maxTextLength}
}

// State returns the current state.
func (s *Session) State() SessionState {
	return s.state
}

// Handle validates ev against the current state. A non-nil error is a
// protocol violation to report to this connection only; the state is left
// unchanged in that case.
func (s *Session) Handle(ev InboundEvent) (Action, error) {
	if s.state == StateClosed {
		return Action{}, nil
	}

	switch e := ev.(type) {
	case JoinEvent:
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return Action{}, ErrEmptyName
		}
		s.state = StateJoined
		return Action{Kind: ActionJoin, Value: name}, nil

	case MessageEvent:
		if s.state != StateJoined {
			return Action{}, ErrNotJoined
		}
		if !e.TextOK {
			return Action{}, ErrInvalidMessage
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return Action{}, nil
		}
		if utf8.RuneCountInString(text) > s.maxTextLength {
			return Action{}, ErrMessageTooLong
		}
		return Action{Kind: ActionPost, Value: text}, nil

	default:
		return Action{}, ErrUnknownType
	}
}

// Close moves the session to its terminal state. It reports whether the
// session had joined before closing.
func (s *Session) Close() bool {
	wasJoined := s.state == StateJoined
	s.state = StateClosed
	return wasJoined
}
