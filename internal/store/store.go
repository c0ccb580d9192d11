// Package store provides storage backends for check-in call state.
//
// It includes SQLite and PostgreSQL backends plus an in-memory store used in
// tests. The Store carries two kinds of data: a TTL-bound key-value session
// area (state machine checkpoints and topic state, read-modify-written once
// per turn) and relational care data (users, care profiles, completed
// health-check results, memory snippets).
package store

import (
	"strings"
	"time"

	"github.com/luminacare/checkincall/internal/models"
)

// Store defines the persistence interface consumed by the orchestration
// layer. Session values expire after their TTL and read as missing once
// expired; expiry is enforced lazily on read.
type Store interface {
	// GetState returns the session value for key, or "" when the key is
	// missing or expired.
	GetState(key string) (string, error)

	// SetState writes a session value. A non-positive TTL means no expiry.
	SetState(key, value string, ttl time.Duration) error

	// DeleteState removes a session value. Deleting a missing key is not an
	// error.
	DeleteState(key string) error

	// FindUserByPhone resolves a phone number to a user id, or "" when no
	// user matches.
	FindUserByPhone(phone string) (string, error)

	// GetCallSession loads the call session for a conversation, or nil when
	// none exists.
	GetCallSession(conversationID string) (*models.CallSession, error)

	// SaveCallSession inserts or updates a call session.
	SaveCallSession(s models.CallSession) error

	// GetCareProfile loads a user's active conditions and medications in
	// their stored order.
	GetCareProfile(userID string) (*models.CareProfile, error)

	// SaveHealthCheckResult persists a completed health check.
	SaveHealthCheckResult(r models.HealthCheckResult) error

	// AddMemory stores a memory snippet with its embedding. An empty ID is
	// assigned by the store.
	AddMemory(m models.Memory) error

	// ListMemories returns all memory rows for a user, embeddings included.
	ListMemories(userID string) ([]models.Memory, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for storage backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite, a
	// connection URL for PostgreSQL.
	DSN string
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
