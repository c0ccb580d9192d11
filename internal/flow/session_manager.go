// Package flow implements the dialogue orchestration engine: the supervisor
// router, the conversation state machine, and the health-check state
// machine, all checkpointed through a session manager so a suspended
// machine survives arbitrarily long gaps between telephony turns.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/luminacare/checkincall/internal/store"
)

// SessionManager is the turn-boundary persistence interface for state
// machine checkpoints. Values are opaque JSON strings; a missing or expired
// key reads as "".
type SessionManager interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Checkpoint key builders. The health-check key format is part of the
// external contract: a resuming call must present the same key to reattach
// to its in-flight session.

// HealthCheckKey returns the checkpoint key for a health-check session.
func HealthCheckKey(userID, conversationID string) string {
	return fmt.Sprintf("health_check:%s:%s", userID, conversationID)
}

// TopicStateKey returns the session key for a conversation's topic state.
func TopicStateKey(conversationID string) string {
	return fmt.Sprintf("topic_state:%s", conversationID)
}

// TranscriptKey returns the session key for a conversation's transcript.
func TranscriptKey(conversationID string) string {
	return fmt.Sprintf("transcript:%s", conversationID)
}

// EndCallLatchKey returns the session key for the latched end-of-call flag.
func EndCallLatchKey(conversationID string) string {
	return fmt.Sprintf("end_call_latched:%s", conversationID)
}

// HealthCheckDoneKey returns the session key marking that the health check
// has completed during this call.
func HealthCheckDoneKey(conversationID string) string {
	return fmt.Sprintf("health_check_done:%s", conversationID)
}

// StoreBackedSessionManager implements SessionManager on a Store backend.
type StoreBackedSessionManager struct {
	store store.Store
}

// NewStoreBackedSessionManager creates a SessionManager backed by a Store.
func NewStoreBackedSessionManager(st store.Store) *StoreBackedSessionManager {
	slog.Debug("Creating StoreBackedSessionManager")
	return &StoreBackedSessionManager{store: st}
}

// Get retrieves a session value.
func (m *StoreBackedSessionManager) Get(ctx context.Context, key string) (string, error) {
	value, err := m.store.GetState(key)
	if err != nil {
		slog.Error("SessionManager Get error", "error", err, "key", key)
		return "", err
	}
	return value, nil
}

// Set writes a session value with the given TTL.
func (m *StoreBackedSessionManager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := m.store.SetState(key, value, ttl); err != nil {
		slog.Error("SessionManager Set error", "error", err, "key", key)
		return err
	}
	slog.Debug("SessionManager Set succeeded", "key", key, "ttl", ttl)
	return nil
}

// Delete removes a session value.
func (m *StoreBackedSessionManager) Delete(ctx context.Context, key string) error {
	if err := m.store.DeleteState(key); err != nil {
		slog.Error("SessionManager Delete error", "error", err, "key", key)
		return err
	}
	slog.Debug("SessionManager Delete succeeded", "key", key)
	return nil
}
