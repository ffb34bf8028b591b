// Package memory provides an in-memory contact store for development/testing.
package memory

import (
	"context"
	"sync"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// ContactStore keeps contacts in process memory, keyed by dedup key.
type ContactStore struct {
	mu       sync.RWMutex
	byKey    map[contact.Key]contact.Contact
	byID     map[string]contact.Key
	upserted int
}

// NewContactStore constructs a ContactStore.
func NewContactStore() *ContactStore {
	return &ContactStore{
		byKey: make(map[contact.Key]contact.Contact),
		byID:  make(map[string]contact.Key),
	}
}

// FindByKey returns the contact for a dedup key, if present.
func (s *ContactStore) FindByKey(_ context.Context, key contact.Key) (contact.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	return c, ok, nil
}

// ListByType returns all contacts of one type.
func (s *ContactStore) ListByType(_ context.Context, t contact.ContactType) ([]contact.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contact.Contact
	for key, c := range s.byKey {
		if key.Type == t {
			out = append(out, c)
		}
	}
	return out, nil
}

// UpsertContact stores the contact under its dedup key.
func (s *ContactStore) UpsertContact(_ context.Context, c contact.Contact) (contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[c.Key()] = c
	s.byID[c.ID] = c.Key()
	s.upserted++
	return c, nil
}

// GetByID returns a contact by its stable ID.
func (s *ContactStore) GetByID(_ context.Context, id string) (contact.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return contact.Contact{}, false, nil
	}
	c, ok := s.byKey[key]
	return c, ok, nil
}

// Len reports the number of stored contacts.
func (s *ContactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// UpsertCount reports how many upserts the store has seen; tests use it to
// assert idempotence.
func (s *ContactStore) UpsertCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserted
}
