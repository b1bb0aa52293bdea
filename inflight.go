package grapevine

import "sync"

// inFlightSet tracks messages that have been received but not yet deleted or
// released, keyed by receipt handle. Both the poll loop and the shutdown path
// mutate it, so every operation takes the mutex. Insert, remove, and drain are
// the only operations; nothing else may touch the map.
type inFlightSet struct {
	mu       sync.Mutex
	messages map[string]Message
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{
		messages: make(map[string]Message),
	}
}

// Add tracks a message by its receipt handle.
func (s *inFlightSet) Add(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ReceiptHandle] = msg
}

// Remove stops tracking the message with the given receipt handle.
// Removing an untracked handle is a no-op.
func (s *inFlightSet) Remove(receiptHandle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, receiptHandle)
}

// Drain empties the set and returns every message that was tracked.
func (s *inFlightSet) Drain() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		drained = append(drained, msg)
	}
	s.messages = make(map[string]Message)
	return drained
}

// Len returns the number of tracked messages.
func (s *inFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Contains reports whether a receipt handle is currently tracked.
func (s *inFlightSet) Contains(receiptHandle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[receiptHandle]
	return ok
}
