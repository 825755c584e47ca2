package store

import (
	"sync"

	"bubbleboard/internal/model"
)

// MessageStore is the in-memory, append-only sequence of accepted messages.
type MessageStore struct {
	mu       sync.RWMutex
	messages []model.Message
}

// New creates a store seeded with previously persisted messages.
func New(initial []model.Message) *MessageStore {
	messages := make([]model.Message, len(initial))
	copy(messages, initial)
	return &MessageStore{messages: messages}
}

// Append adds m to the end of the sequence and returns its index.
func (s *MessageStore) Append(m model.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return len(s.messages) - 1
}

// Snapshot returns a copy of all messages in arrival order.
func (s *MessageStore) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
