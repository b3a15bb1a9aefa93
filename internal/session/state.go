package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/christopherklint97/convene/internal/dialogue"
	"github.com/christopherklint97/convene/internal/store"
)

// StateStore keeps conversation state between turns.
type StateStore interface {
	Load(ctx context.Context, conversationID string) (dialogue.ConversationState, bool, error)
	Save(ctx context.Context, state dialogue.ConversationState) error
	Delete(ctx context.Context, conversationID string) error
}

func stateKey(conversationID string) string {
	return "conversation:" + conversationID
}

// DBStates stores conversation state as JSON in the database state table.
type DBStates struct {
	db *store.DB
}

func NewDBStates(db *store.DB) *DBStates {
	return &DBStates{db: db}
}

func (s *DBStates) Load(_ context.Context, conversationID string) (dialogue.ConversationState, bool, error) {
	raw, err := s.db.GetState(stateKey(conversationID))
	if err != nil {
		return dialogue.ConversationState{}, false, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	if raw == "" {
		return dialogue.ConversationState{}, false, nil
	}
	var st dialogue.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return dialogue.ConversationState{}, false, fmt.Errorf("decoding conversation %s: %w", conversationID, err)
	}
	return st, true, nil
}

func (s *DBStates) Save(_ context.Context, st dialogue.ConversationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", st.ConversationID, err)
	}
	if err := s.db.SetState(stateKey(st.ConversationID), string(data)); err != nil {
		return fmt.Errorf("saving conversation %s: %w", st.ConversationID, err)
	}
	return nil
}

func (s *DBStates) Delete(_ context.Context, conversationID string) error {
	if err := s.db.DeleteState(stateKey(conversationID)); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	return nil
}

// MemoryStates keeps state in process, for the chat UI and tests.
type MemoryStates struct {
	mu     sync.Mutex
	states map[string]dialogue.ConversationState
}

func NewMemoryStates() *MemoryStates {
	return &MemoryStates{states: make(map[string]dialogue.ConversationState)}
}

func (s *MemoryStates) Load(_ context.Context, conversationID string) (dialogue.ConversationState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	return st, ok, nil
}

func (s *MemoryStates) Save(_ context.Context, st dialogue.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ConversationID] = st
	return nil
}

func (s *MemoryStates) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}
