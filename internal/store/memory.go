// Package store provides storage backends for check-in call state.
//
// This file implements an in-memory store used in tests and local
// development. It mirrors the TTL semantics of the SQL backends.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luminacare/checkincall/internal/models"
)

type stateEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// InMemoryStore is a Store held entirely in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	state    map[string]stateEntry
	users    map[string]string // phone -> user id
	sessions map[string]models.CallSession
	profiles map[string]models.CareProfile
	results  []models.HealthCheckResult
	memories map[string][]models.Memory

	// FailCareProfile forces GetCareProfile to fail; used to exercise the
	// catalog fallback path in tests.
	FailCareProfile bool
	// FailResults forces SaveHealthCheckResult to fail.
	FailResults bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		state:    make(map[string]stateEntry),
		users:    make(map[string]string),
		sessions: make(map[string]models.CallSession),
		profiles: make(map[string]models.CareProfile),
		memories: make(map[string][]models.Memory),
	}
}

// GetState returns the session value for key, or "" when missing or expired.
func (s *InMemoryStore) GetState(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state[key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.state, key)
		return "", nil
	}
	return entry.value, nil
}

// SetState writes a session value with the given TTL.
func (s *InMemoryStore) SetState(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := stateEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.state[key] = entry
	return nil
}

// DeleteState removes a session value.
func (s *InMemoryStore) DeleteState(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, key)
	return nil
}

// AddUser registers a phone-number-to-user mapping.
func (s *InMemoryStore) AddUser(userID, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[phone] = userID
}

// FindUserByPhone resolves a phone number to a user id.
func (s *InMemoryStore) FindUserByPhone(phone string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[phone], nil
}

// GetCallSession loads the call session for a conversation.
func (s *InMemoryStore) GetCallSession(conversationID string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[conversationID]
	if !ok {
		return nil, nil
	}
	return &cs, nil
}

// SaveCallSession inserts or updates a call session.
func (s *InMemoryStore) SaveCallSession(cs models.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cs.ConversationID] = cs
	return nil
}

// SetCareProfile seeds a care profile; test helper.
func (s *InMemoryStore) SetCareProfile(p models.CareProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// GetCareProfile loads a user's care profile.
func (s *InMemoryStore) GetCareProfile(userID string) (*models.CareProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailCareProfile {
		return nil, errCareProfileUnavailable
	}
	p, ok := s.profiles[userID]
	if !ok {
		return &models.CareProfile{UserID: userID}, nil
	}
	return &p, nil
}

// SaveHealthCheckResult records a completed health check.
func (s *InMemoryStore) SaveHealthCheckResult(r models.HealthCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailResults {
		return errResultsUnavailable
	}
	s.results = append(s.results, r)
	return nil
}

// HealthCheckResults returns all recorded results; test helper.
func (s *InMemoryStore) HealthCheckResults() []models.HealthCheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HealthCheckResult, len(s.results))
	copy(out, s.results)
	return out
}

// AddMemory stores a memory snippet.
func (s *InMemoryStore) AddMemory(m models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.memories[m.UserID] = append(s.memories[m.UserID], m)
	return nil
}

// ListMemories returns all memory rows for a user.
func (s *InMemoryStore) ListMemories(userID string) ([]models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Memory, len(s.memories[userID]))
	copy(out, s.memories[userID])
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
