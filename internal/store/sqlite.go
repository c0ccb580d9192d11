// Package store provides storage backends for check-in call state.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/luminacare/checkincall/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetState returns the session value for key, or "" when missing or expired.
func (s *SQLiteStore) GetState(key string) (string, error) {
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`SELECT value, expires_at FROM session_state WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to query session state for %s: %w", key, err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		// Expired: delete lazily and report missing.
		if _, err := s.db.Exec(`DELETE FROM session_state WHERE key = ?`, key); err != nil {
			slog.Warn("SQLiteStore GetState expired-row cleanup failed", "error", err, "key", key)
		}
		slog.Debug("SQLiteStore GetState expired", "key", key)
		return "", nil
	}
	return value, nil
}

// SetState writes a session value with the given TTL.
func (s *SQLiteStore) SetState(key, value string, ttl time.Duration) error {
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	_, err := s.db.Exec(`INSERT INTO session_state (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expiresAt, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SetState failed", "error", err, "key", key)
		return fmt.Errorf("failed to upsert session state for %s: %w", key, err)
	}
	return nil
}

// DeleteState removes a session value.
func (s *SQLiteStore) DeleteState(key string) error {
	if _, err := s.db.Exec(`DELETE FROM session_state WHERE key = ?`, key); err != nil {
		slog.Error("SQLiteStore DeleteState failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete session state for %s: %w", key, err)
	}
	return nil
}

// FindUserByPhone resolves a phone number to a user id.
func (s *SQLiteStore) FindUserByPhone(phone string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM users WHERE phone = ?`, phone).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindUserByPhone failed", "error", err)
		return "", fmt.Errorf("failed to look up user by phone: %w", err)
	}
	return id, nil
}

// GetCallSession loads the call session for a conversation.
func (s *SQLiteStore) GetCallSession(conversationID string) (*models.CallSession, error) {
	var cs models.CallSession
	err := s.db.QueryRow(`SELECT conversation_id, user_id, call_type, created_at, updated_at FROM call_sessions WHERE conversation_id = ?`, conversationID).
		Scan(&cs.ConversationID, &cs.UserID, &cs.CallType, &cs.CreatedAt, &cs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCallSession failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query call session %s: %w", conversationID, err)
	}
	return &cs, nil
}

// SaveCallSession inserts or updates a call session.
func (s *SQLiteStore) SaveCallSession(cs models.CallSession) error {
	_, err := s.db.Exec(`INSERT INTO call_sessions (conversation_id, user_id, call_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET user_id = excluded.user_id, call_type = excluded.call_type, updated_at = excluded.updated_at`,
		cs.ConversationID, cs.UserID, string(cs.CallType), cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCallSession failed", "error", err, "conversationID", cs.ConversationID)
		return fmt.Errorf("failed to save call session %s: %w", cs.ConversationID, err)
	}
	return nil
}

// GetCareProfile loads a user's active conditions and medications in stored order.
func (s *SQLiteStore) GetCareProfile(userID string) (*models.CareProfile, error) {
	profile := &models.CareProfile{UserID: userID}

	rows, err := s.db.Query(`SELECT id, name FROM conditions WHERE user_id = ? AND active = 1 ORDER BY position, id`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetCareProfile conditions query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query conditions for %s: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Condition
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan condition row: %w", err)
		}
		profile.Conditions = append(profile.Conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate condition rows: %w", err)
	}

	medRows, err := s.db.Query(`SELECT id, name, COALESCE(dosage, '') FROM medications WHERE user_id = ? AND active = 1 ORDER BY position, id`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetCareProfile medications query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query medications for %s: %w", userID, err)
	}
	defer medRows.Close()
	for medRows.Next() {
		var m models.Medication
		if err := medRows.Scan(&m.ID, &m.Name, &m.Dosage); err != nil {
			return nil, fmt.Errorf("failed to scan medication row: %w", err)
		}
		profile.Medications = append(profile.Medications, m)
	}
	if err := medRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate medication rows: %w", err)
	}

	return profile, nil
}

// SaveHealthCheckResult persists a completed health check. Medication and
// condition answers are stored as JSON columns.
func (s *SQLiteStore) SaveHealthCheckResult(r models.HealthCheckResult) error {
	medsJSON, err := json.Marshal(r.Medications)
	if err != nil {
		return fmt.Errorf("failed to marshal medication answers: %w", err)
	}
	condsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal condition answers: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO health_check_results (id, user_id, conversation_id, wellbeing_score, sleep_score, symptoms, notes, medications, conditions, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.UserID, r.ConversationID, r.WellbeingScore, r.SleepScore, r.Symptoms, r.Notes, string(medsJSON), string(condsJSON), r.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveHealthCheckResult failed", "error", err, "userID", r.UserID, "conversationID", r.ConversationID)
		return fmt.Errorf("failed to insert health check result: %w", err)
	}
	slog.Debug("SQLiteStore SaveHealthCheckResult succeeded", "userID", r.UserID, "conversationID", r.ConversationID)
	return nil
}

// AddMemory stores a memory snippet with its embedding serialized as JSON.
func (s *SQLiteStore) AddMemory(m models.Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	embJSON, err := json.Marshal(m.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO memories (id, user_id, highlight, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Highlight, string(embJSON), m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMemory failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// ListMemories returns all memory rows for a user, embeddings included.
func (s *SQLiteStore) ListMemories(userID string) ([]models.Memory, error) {
	rows, err := s.db.Query(`SELECT id, user_id, highlight, COALESCE(embedding, ''), created_at FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListMemories query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query memories for %s: %w", userID, err)
	}
	defer rows.Close()

	var memories []models.Memory
	for rows.Next() {
		var m models.Memory
		var embJSON string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Highlight, &embJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		if embJSON != "" {
			if err := json.Unmarshal([]byte(embJSON), &m.Embedding); err != nil {
				slog.Warn("SQLiteStore ListMemories skipping unparseable embedding", "error", err, "memoryID", m.ID)
			}
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory rows: %w", err)
	}
	return memories, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
