package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu     sync.RWMutex
	turns  map[string][]TurnRecord
	byID   map[string]turnRef
	assets map[string][]Asset
}

type turnRef struct {
	sessionID string
	idx       int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:  make(map[string][]TurnRecord),
		byID:   make(map[string]turnRef),
		assets: make(map[string][]Asset),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.turns[record.SessionID] = append(s.turns[record.SessionID], record)
	s.byID[record.ID] = turnRef{sessionID: record.SessionID, idx: len(s.turns[record.SessionID]) - 1}
	return nil
}

func (s *InMemoryStore) SessionTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) MarkTurn(_ context.Context, turnID string, saved, liked *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[turnID]
	if !ok {
		return ErrNotFound
	}
	rec := &s.turns[ref.sessionID][ref.idx]
	if saved != nil {
		rec.Saved = *saved
	}
	if liked != nil {
		rec.Liked = *liked
	}
	return nil
}

func (s *InMemoryStore) SaveAsset(_ context.Context, asset Asset) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	version := 0
	for _, a := range s.assets[asset.ProjectID] {
		if a.Question == asset.Question && a.Version > version {
			version = a.Version
		}
	}
	asset.Version = version + 1
	s.assets[asset.ProjectID] = append(s.assets[asset.ProjectID], asset)
	return asset, nil
}

func (s *InMemoryStore) ProjectAssets(_ context.Context, projectID string) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.assets[projectID]
	out := make([]Asset, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
