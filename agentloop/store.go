package agentloop

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// DefaultConversationID is used when a client names no conversation.
const DefaultConversationID = "default"

// Store is an ordered message log. Runs work on a Snapshot and commit with
// CommitIf; a Clear in between bumps the generation so the stale commit is
// dropped.
type Store struct {
	mu         sync.RWMutex
	messages   []Message
	generation uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the messages and the current generation.
func (s *Store) Snapshot() ([]Message, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, s.generation
}

// Messages returns a copy of the messages.
func (s *Store) Messages() []Message {
	msgs, _ := s.Snapshot()
	return msgs
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Append adds messages at the end.
func (s *Store) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Replace swaps the whole log for msgs.
func (s *Store) Replace(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Message(nil), msgs...)
}

// CommitIf replaces the log only if no Clear happened since generation was
// read. It reports whether the commit took effect.
func (s *Store) CommitIf(generation uint64, msgs []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return false
	}
	s.messages = append([]Message(nil), msgs...)
	return true
}

// Clear empties the log.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.generation++
}

// Conversation pairs a store with the lock held across one
// append, run and commit sequence.
type Conversation struct {
	ID    string
	Store *Store
	run   sync.Mutex
}

// Conversations scopes stores by client conversation ID.
type Conversations struct {
	mu   sync.Mutex
	byID map[string]*Conversation
}

// NewConversations returns an empty registry.
func NewConversations() *Conversations {
	return &Conversations{byID: make(map[string]*Conversation)}
}

// Get returns the conversation for id, creating it on first use. An empty
// id selects DefaultConversationID.
func (c *Conversations) Get(id string) *Conversation {
	if id == "" {
		id = DefaultConversationID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byID[id]
	if !ok {
		conv = &Conversation{ID: id, Store: NewStore()}
		c.byID[id] = conv
	}
	return conv
}

// Lookup returns the conversation for id without creating it.
func (c *Conversations) Lookup(id string) (*Conversation, bool) {
	if id == "" {
		id = DefaultConversationID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byID[id]
	return conv, ok
}

// IDs returns the known conversation IDs in sorted order.
func (c *Conversations) IDs() []string {
	c.mu.Lock()
	ids := lo.Keys(c.byID)
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ClearAll empties every conversation.
func (c *Conversations) ClearAll() {
	c.mu.Lock()
	convs := lo.Values(c.byID)
	c.mu.Unlock()
	for _, conv := range convs {
		conv.Store.Clear()
	}
}
