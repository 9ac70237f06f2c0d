// Package server defines the wire events exchanged with chat clients and
// the helpers that decode and encode them.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Event tags used on the wire.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeHistory = "history"
	TypeUsers   = "users"
	TypeError   = "error"
)

// Protocol violations. The error text is the reason sent to the client.
var (
	ErrBadPayload     = errors.New("bad payload")
	ErrUnknownType    = errors.New("unknown type")
	ErrEmptyName      = errors.New("empty name")
	ErrNotJoined      = errors.New("not joined")
	ErrInvalidMessage = errors.New("invalid message")
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("rate limited")
)

// InboundEvent is one of JoinEvent or MessageEvent.
type InboundEvent interface {
	inbound()
}

// JoinEvent asks to enter the room under Name.
type JoinEvent struct {
	Name string
}

// MessageEvent carries chat text. TextOK is false when the text field was
// missing or not a JSON string.
type MessageEvent struct {
	Text   string
	TextOK bool
}

func (JoinEvent) inbound()    {}
func (MessageEvent) inbound() {}

type rawEvent struct {
	Type json.RawMessage `json:"type"`
	Name json.RawMessage `json:"name"`
	Text json.RawMessage `json:"text"`
}

// DecodeEvent parses a client frame. It returns ErrBadPayload when the frame
// is not a JSON object and ErrUnknownType when the tag is missing or not
// recognised.
func DecodeEvent(data []byte) (InboundEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrBadPayload
	}
	var raw rawEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, ErrBadPayload
	}

	typ, ok := rawString(raw.Type)
	if !ok {
		return nil, ErrUnknownType
	}

	switch typ {
	case TypeJoin:
		if isNull(raw.Name) {
			return JoinEvent{}, nil
		}
		name, ok := rawString(raw.Name)
		if !ok {
			return nil, ErrBadPayload
		}
		return JoinEvent{Name: name}, nil
	case TypeMessage:
		text, ok := rawString(raw.Text)
		return MessageEvent{Text: text, TextOK: ok}, nil
	default:
		return nil, ErrUnknownType
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func rawString(raw json.RawMessage) (string, bool) {
	if isNull(raw) || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

type messageFrame struct {
	Type string `json:"type"`
	ChatMessage
}

type historyFrame struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

type usersFrame struct {
	Type  string   `json:"type"`
	Names []string `json:"names"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeMessage renders a message event.
func EncodeMessage(msg ChatMessage) ([]byte, error) {
	return json.Marshal(messageFrame{Type: TypeMessage, ChatMessage: msg})
}

// EncodeHistory renders a history event. A nil slice is sent as an empty list.
func EncodeHistory(messages []ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return json.Marshal(historyFrame{Type: TypeHistory, Messages: messages})
}

// EncodeUsers renders a roster event.
func EncodeUsers(names []string) ([]byte, error) {
	if names == nil {
		names = []string{}
	}
	return json.Marshal(usersFrame{Type: TypeUsers, Names: names})
}

// EncodeError renders an error event carrying reason.
func EncodeError(reason string) ([]byte, error) {
	return json.Marshal(errorFrame{Type: TypeError, Message: reason})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
