package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
)

// MemoryStore keeps conversations in process memory. It backs tests and
// single-instance development runs.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*model.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*model.Conversation)}
}

// Insert implements ConversationStore.
func (s *MemoryStore) Insert(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conv.ID]; ok {
		return ErrDuplicate
	}
	s.convs[conv.ID] = conv.Clone()
	return nil
}

// Get implements ConversationStore.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// FindLatestActive implements ConversationStore.
func (s *MemoryStore) FindLatestActive(_ context.Context, userID, agentID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Conversation
	for _, conv := range s.convs {
		if conv.UserID != userID || conv.AgentID != agentID || conv.IsDeleted() {
			continue
		}
		if latest == nil || conv.UpdatedAt.After(latest.UpdatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// AppendMessages implements ConversationStore.
func (s *MemoryStore) AppendMessages(_ context.Context, id string, msgs ...model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	if conv.IsDeleted() {
		return ErrInactive
	}
	conv.Append(msgs...)
	return nil
}

// SetStatus implements ConversationStore.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status model.Status) error {
	return s.update(id, false, func(c *model.Conversation) { c.Status = status })
}

// SetProvider implements ConversationStore.
func (s *MemoryStore) SetProvider(_ context.Context, id, provider string) error {
	return s.update(id, true, func(c *model.Conversation) { c.Provider = provider })
}

// SetSummary implements ConversationStore.
func (s *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	return s.update(id, true, func(c *model.Conversation) { c.Summary = summary })
}

func (s *MemoryStore) update(id string, activeOnly bool, fn func(*model.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	if activeOnly && conv.IsDeleted() {
		return ErrInactive
	}
	fn(conv)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActive implements ConversationStore.
func (s *MemoryStore) ListActive(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0)
	for _, conv := range s.convs {
		if conv.UserID == userID && !conv.IsDeleted() {
			out = append(out, *conv.Clone())
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

// Ping implements ConversationStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements ConversationStore.
func (s *MemoryStore) Close(context.Context) error { return nil }

func sortByUpdatedDesc(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
