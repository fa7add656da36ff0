package character

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is the
// default backend — a solo game needs no durability beyond the process, the
// way the original kept its sheet in browser storage. The zero value is
// ready to use.
type MemStore struct {
	mu         sync.RWMutex
	characters map[string]Character
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{characters: make(map[string]Character)}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, ch Character) (Character, error) {
	if ch.ID == "" {
		id, err := generateID()
		if err != nil {
			return Character{}, fmt.Errorf("character: generate id: %w", err)
		}
		ch.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.characters == nil {
		s.characters = make(map[string]Character)
	}

	if _, exists := s.characters[ch.ID]; exists {
		return Character{}, fmt.Errorf("character: create %q: %w", ch.ID, ErrDuplicateID)
	}

	now := time.Now().UTC()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	s.characters[ch.ID] = ch.Clone()
	return ch, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.characters[id]
	if !ok {
		return Character{}, fmt.Errorf("character: get %q: %w", id, ErrNotFound)
	}
	return ch.Clone(), nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, ch Character) (Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.characters[ch.ID]
	if !ok {
		return Character{}, fmt.Errorf("character: update %q: %w", ch.ID, ErrNotFound)
	}

	ch.CreatedAt = existing.CreatedAt
	ch.UpdatedAt = time.Now().UTC()
	s.characters[ch.ID] = ch.Clone()
	return ch, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.characters, id)
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Character, 0, len(s.characters))
	for _, ch := range s.characters {
		out = append(out, ch.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// generateID returns a 16-hex-character random identifier.
func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
