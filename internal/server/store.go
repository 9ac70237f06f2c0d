// Package server keeps the bounded message history shared by every
// connection.
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCapacity is the number of messages retained when no
// capacity is configured.
const DefaultHistoryCapacity = 200

// ChatMessage is an accepted chat message. It is immutable once created.
type ChatMessage struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// MessageStore is a bounded, insertion-ordered log of chat messages.
// When an append pushes the size over capacity the oldest entry is evicted.
// The store does not validate text; callers are expected to do so.
type MessageStore struct {
	mu       sync.RWMutex
	messages []ChatMessage
	capacity int
	now      func() time.Time
}

// NewMessageStore creates a store holding at most capacity messages.
// A non-positive capacity falls back to DefaultHistoryCapacity.
func NewMessageStore(capacity int) *MessageStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MessageStore{
		messages: make([]ChatMessage, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append records a new message and returns it.
func (s *MessageStore) Append(author, text string) ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := ChatMessage{
		ID:        uuid.NewString(),
		Author:    author,
		Text:      text,
		Timestamp: s.now().UnixMilli(),
	}
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.capacity {
		// shift instead of reslicing so the backing array does not grow forever
		copy(s.messages, s.messages[1:])
		s.messages[len(s.messages)-1] = ChatMessage{}
		s.messages = s.messages[:len(s.messages)-1]
	}
	return msg
}

// Snapshot returns a copy of the stored messages, oldest first.
func (s *MessageStore) Snapshot() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Capacity reports the maximum number of retained messages.
func (s *MessageStore) Capacity() int {
	return s.capacity
}
