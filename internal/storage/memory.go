package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process ConversationStore, used for tests and the "memory" database type
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[int64]*UserDocument
	byID   map[int64]int64
	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[int64]*UserDocument),
		byID:   make(map[int64]int64),
	}
}

func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func cloneDocument(doc *UserDocument) *UserDocument {
	out := *doc
	out.Fields = make(map[HistoryField]json.RawMessage, len(doc.Fields))
	for k, v := range doc.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return &out
}

// FindOne returns a copy of the document for userID
func (s *MemoryStore) FindOne(ctx context.Context, userID int64) (*UserDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.byUser[userID]
	if !ok {
		return nil, nil
	}
	return cloneDocument(doc), nil
}

// InsertOne creates a document holding one field
func (s *MemoryStore) InsertOne(ctx context.Context, userID int64, field HistoryField, value json.RawMessage) (int64, error) {
	if err := checkField(field); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUser[userID]; exists {
		return 0, fmt.Errorf("document for user %d already exists", userID)
	}

	s.nextID++
	now := time.Now().Unix()
	s.byUser[userID] = &UserDocument{
		ID:        s.nextID,
		UserID:    userID,
		Fields:    map[HistoryField]json.RawMessage{field: append(json.RawMessage(nil), value...)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[s.nextID] = userID
	return s.nextID, nil
}

// UpdateField sets a field on the document with the given internal id
func (s *MemoryStore) UpdateField(ctx context.Context, id int64, field HistoryField, value json.RawMessage) error {
	if err := checkField(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byID[id]
	if !ok {
		return nil
	}
	doc := s.byUser[userID]
	doc.Fields[field] = append(json.RawMessage(nil), value...)
	doc.UpdatedAt = time.Now().Unix()
	return nil
}

// UnsetField removes a field from the document for userID
func (s *MemoryStore) UnsetField(ctx context.Context, userID int64, field HistoryField) error {
	if err := checkField(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.byUser[userID]; ok {
		delete(doc.Fields, field)
		doc.UpdatedAt = time.Now().Unix()
	}
	return nil
}
