// Package models defines the core data types for check-in call orchestration.
package models

import "time"

// CallType identifies which conversational mode a call is in.
type CallType string

// Call type constants.
const (
	CallTypeGeneral     CallType = "general"
	CallTypeHealthCheck CallType = "health_check"
)

// QuestionKind identifies the expected answer shape of a health question.
type QuestionKind string

// Question kind constants.
const (
	QuestionKindScale   QuestionKind = "scale"
	QuestionKindBoolean QuestionKind = "boolean"
	QuestionKindText    QuestionKind = "text"
)

// QuestionCategory groups questions by their origin in the catalog.
type QuestionCategory string

// Question category constants.
const (
	CategoryGeneral    QuestionCategory = "general"
	CategorySymptom    QuestionCategory = "symptom"
	CategoryCondition  QuestionCategory = "condition"
	CategoryMedication QuestionCategory = "medication"
)

// NotAnswered is the sentinel recorded for skipped optional questions.
const NotAnswered = "not answered"

// Question is a single health-check question. Questions are immutable once
// built and are reconstructed from these fields when a session is reloaded,
// so no live references are ever persisted.
type Question struct {
	ID       string           `json:"id"`
	Prompt   string           `json:"prompt"`
	Category QuestionCategory `json:"category"`
	Kind     QuestionKind     `json:"kind"`
	// Scale bounds, only meaningful when Kind is scale.
	ScaleMin int `json:"scale_min,omitempty"`
	ScaleMax int `json:"scale_max,omitempty"`
	// Optional marks free-text questions that may be skipped.
	Optional bool `json:"optional,omitempty"`
	// RelatedEntityID links condition and medication questions to the
	// condition or medication they were generated from.
	RelatedEntityID string `json:"related_entity_id,omitempty"`
}

// ValidationResult is the outcome of validating a raw answer against a
// question. Validation never fails with an error; malformed input produces
// IsValid=false and a best-effort Answer.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Answer  string `json:"answer"`
}

// AnswerRecord captures one recorded answer within a health-check session.
// Records are append-only; an invalid record is only appended once the
// retry ceiling for its question is exhausted.
type AnswerRecord struct {
	QuestionIndex int      `json:"question_index"`
	Question      Question `json:"question"`
	RawAnswer     string   `json:"raw_answer"`
	Answer        string   `json:"answer"`
	Valid         bool     `json:"valid"`
	Attempts      int      `json:"attempts"`
}

// HealthCheckSession is the durable state of one structured health check.
// It is serialized to the session store at every suspension point and
// reloaded when the user's next reply arrives.
type HealthCheckSession struct {
	UserID           string           `json:"user_id"`
	ConversationID   string           `json:"conversation_id"`
	State            HealthCheckState `json:"state"`
	Questions        []Question       `json:"questions"`
	CurrentQuestion  int              `json:"current_question"`
	QuestionAttempts int              `json:"question_attempts"`
	Answers          []AnswerRecord   `json:"answers"`
	Complete         bool             `json:"complete"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TopicState tracks the semantic drift of one conversation. There is one
// instance per conversation id, overwritten on every turn.
type TopicState struct {
	CurrentEmbedding []float64 `json:"current_embedding,omitempty"`
	Centroid         []float64 `json:"centroid,omitempty"`
	CachedHighlights []string  `json:"cached_highlights,omitempty"`
	// CacheAnchor is the centroid snapshot taken when CachedHighlights were
	// last computed; drift is measured against it.
	CacheAnchor    []float64 `json:"cache_anchor,omitempty"`
	MessageCount   int       `json:"message_count"`
	TopicStartedAt time.Time `json:"topic_started_at"`
	LastSimilarity float64   `json:"last_similarity"`
}

// CallSession resolves an inbound turn to a user and conversational mode.
type CallSession struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CallType       CallType  `json:"call_type"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Condition is an active health condition on a user's care profile.
type Condition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Medication is an active medication on a user's care profile.
type Medication struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`
}

// CareProfile holds the user data the question catalog is built from.
type CareProfile struct {
	UserID      string       `json:"user_id"`
	Conditions  []Condition  `json:"conditions"`
	Medications []Medication `json:"medications"`
}

// MedicationAdherence is one medication answer parsed out of a completed
// health check.
type MedicationAdherence struct {
	MedicationID string `json:"medication_id"`
	Taken        bool   `json:"taken"`
	Answer       string `json:"answer"`
	Valid        bool   `json:"valid"`
}

// ConditionNote is one condition answer parsed out of a completed check.
type ConditionNote struct {
	ConditionID string `json:"condition_id"`
	Note        string `json:"note"`
	Valid       bool   `json:"valid"`
}

// HealthCheckResult is the parsed outcome of a completed health check,
// handed to the store for persistence.
type HealthCheckResult struct {
	UserID         string                `json:"user_id"`
	ConversationID string                `json:"conversation_id"`
	WellbeingScore int                   `json:"wellbeing_score"`
	SleepScore     int                   `json:"sleep_score"`
	Symptoms       string                `json:"symptoms"`
	Notes          string                `json:"notes"`
	Medications    []MedicationAdherence `json:"medications"`
	Conditions     []ConditionNote       `json:"conditions"`
	CompletedAt    time.Time             `json:"completed_at"`
}

// Memory is one stored memory snippet with its embedding.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Highlight string    `json:"highlight"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationMessage is a single message in a conversation transcript.
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
