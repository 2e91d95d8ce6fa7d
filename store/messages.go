package store

import (
	"github.com/sessiongraph/sessiongraph/reconstruct"
)

// MessagesAtHead rebuilds the provider-ready conversation for the session's
// current head
func (s *Store) MessagesAtHead(sessionID string) (*reconstruct.Result, error) {
	events, err := s.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	return reconstruct.FromEvents(events)
}

// MessagesAt rebuilds the conversation as it stood at an arbitrary event,
// letting callers preview what a fork from that point would see
func (s *Store) MessagesAt(eventID string) (*reconstruct.Result, error) {
	events, err := s.GetAncestors(eventID)
	if err != nil {
		return nil, err
	}
	return reconstruct.FromEvents(events)
}
