// Package flow implements the health-check state machine.
//
// The machine drives one question at a time through ask, suspend for the
// user's answer, validate, then retry or advance, and finally parse and
// persist the results. AwaitAnswer is a genuine suspension point: the full
// session is serialized to the session store and control returns to the
// caller; the machine resumes only when a later turn re-presents the same
// checkpoint key with the user's reply.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/luminacare/checkincall/internal/catalog"
	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/models"
	"github.com/luminacare/checkincall/internal/validate"
	"github.com/openai/openai-go"
)

// Retry and TTL defaults.
const (
	// DefaultMaxRetryAttempts bounds how many times one question is asked
	// before an invalid answer is accepted as final. This is the only
	// cancellation-like control in the machine: it guarantees the question
	// loop cannot spin indefinitely.
	DefaultMaxRetryAttempts = 2

	// DefaultHealthCheckTTL is how long a suspended session survives before
	// it is considered abandoned.
	DefaultHealthCheckTTL = time.Hour
)

// healthCheckClosing is the closing message returned after the last answer,
// regardless of whether persistence succeeded.
const healthCheckClosing = "Thank you for going through the check-in with me. I've noted everything down. Take good care of yourself, and we'll talk again soon!"

// ResultSink persists parsed health-check results.
type ResultSink interface {
	SaveHealthCheckResult(r models.HealthCheckResult) error
}

// HealthCheckFlow is the structured questionnaire state machine.
type HealthCheckFlow struct {
	sessions         SessionManager
	catalog          *catalog.Builder
	genaiClient      genai.ClientInterface
	results          ResultSink
	maxRetryAttempts int
	sessionTTL       time.Duration
}

// NewHealthCheckFlow creates a health-check flow with its dependencies.
func NewHealthCheckFlow(sessions SessionManager, cat *catalog.Builder, genaiClient genai.ClientInterface, results ResultSink) *HealthCheckFlow {
	slog.Debug("HealthCheckFlow.NewHealthCheckFlow: creating flow")
	return &HealthCheckFlow{
		sessions:         sessions,
		catalog:          cat,
		genaiClient:      genaiClient,
		results:          results,
		maxRetryAttempts: DefaultMaxRetryAttempts,
		sessionTTL:       DefaultHealthCheckTTL,
	}
}

// SetMaxRetryAttempts overrides the retry ceiling.
func (f *HealthCheckFlow) SetMaxRetryAttempts(n int) {
	if n > 0 {
		f.maxRetryAttempts = n
	}
}

// Begin initializes a health-check session for the call and returns the
// rendering of the first question. If a suspended session already exists
// under the checkpoint key, it is resumed instead of replaced.
func (f *HealthCheckFlow) Begin(ctx context.Context, userID, conversationID string) (string, error) {
	key := HealthCheckKey(userID, conversationID)

	existing, err := f.loadSession(ctx, key)
	if err != nil {
		return "", err
	}
	if existing != nil && !existing.Complete {
		slog.Info("HealthCheckFlow.Begin: resuming suspended session", "userID", userID, "conversationID", conversationID, "question", existing.CurrentQuestion)
		return f.askCurrent(ctx, existing)
	}

	now := time.Now()
	session := &models.HealthCheckSession{
		UserID:         userID,
		ConversationID: conversationID,
		State:          models.StateHealthInit,
		Questions:      f.catalog.Build(ctx, userID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	slog.Info("HealthCheckFlow.Begin: session created", "userID", userID, "conversationID", conversationID, "questions", len(session.Questions))
	return f.askCurrent(ctx, session)
}

// ProcessTurn resumes the machine with the user's reply. It returns the
// next prompt (or closing message) and whether the check completed on this
// turn. A missing checkpoint starts a fresh session and asks the first
// question, treating the reply as an opener rather than an answer.
func (f *HealthCheckFlow) ProcessTurn(ctx context.Context, userID, conversationID, userReply string) (string, bool, error) {
	key := HealthCheckKey(userID, conversationID)

	session, err := f.loadSession(ctx, key)
	if err != nil {
		return "", false, err
	}
	if session == nil {
		slog.Debug("HealthCheckFlow.ProcessTurn: no checkpoint, starting fresh session", "userID", userID, "conversationID", conversationID)
		reply, err := f.Begin(ctx, userID, conversationID)
		return reply, false, err
	}
	if session.State != models.StateHealthAwait {
		slog.Warn("HealthCheckFlow.ProcessTurn: checkpoint not awaiting an answer, re-asking", "state", session.State, "userID", userID)
		reply, err := f.askCurrent(ctx, session)
		return reply, false, err
	}

	return f.validateAnswer(ctx, session, userReply)
}

// validateAnswer runs the Validate state: append-or-retry, then advance to
// the next question or finalize.
func (f *HealthCheckFlow) validateAnswer(ctx context.Context, session *models.HealthCheckSession, userReply string) (string, bool, error) {
	question := session.Questions[session.CurrentQuestion]
	result := validate.Validate(question, userReply)

	slog.Debug("HealthCheckFlow.validateAnswer: validated",
		"userID", session.UserID, "questionID", question.ID, "valid", result.IsValid, "attempts", session.QuestionAttempts)

	switch {
	case result.IsValid:
		f.appendRecord(session, question, userReply, result, session.QuestionAttempts+1)
		f.advance(session)

	case session.QuestionAttempts < f.maxRetryAttempts-1:
		// Retry the same question.
		session.QuestionAttempts++
		reply, err := f.askCurrent(ctx, session)
		return reply, false, err

	default:
		// Retry ceiling reached: accept the invalid answer as final rather
		// than blocking the user on one question forever.
		slog.Info("HealthCheckFlow.validateAnswer: retry ceiling reached, accepting invalid answer",
			"userID", session.UserID, "questionID", question.ID, "attempts", session.QuestionAttempts+1)
		f.appendRecord(session, question, userReply, result, session.QuestionAttempts+1)
		f.advance(session)
	}

	if session.CurrentQuestion >= len(session.Questions) {
		reply, err := f.finalize(ctx, session)
		return reply, true, err
	}
	reply, err := f.askCurrent(ctx, session)
	return reply, false, err
}

// appendRecord appends an AnswerRecord for the current question. Records
// are only appended on a valid answer or at the retry ceiling.
func (f *HealthCheckFlow) appendRecord(session *models.HealthCheckSession, q models.Question, raw string, result models.ValidationResult, attempts int) {
	session.Answers = append(session.Answers, models.AnswerRecord{
		QuestionIndex: session.CurrentQuestion,
		Question:      q,
		RawAnswer:     raw,
		Answer:        result.Answer,
		Valid:         result.IsValid,
		Attempts:      attempts,
	})
}

// advance moves to the next question and resets the attempt counter.
func (f *HealthCheckFlow) advance(session *models.HealthCheckSession) {
	session.CurrentQuestion++
	session.QuestionAttempts = 0
}

// askCurrent renders the current question, persists the session in the
// awaiting-answer state, and suspends.
func (f *HealthCheckFlow) askCurrent(ctx context.Context, session *models.HealthCheckSession) (string, error) {
	question := session.Questions[session.CurrentQuestion]
	session.State = models.StateHealthAsk
	rendered := f.renderQuestion(ctx, session, question)

	session.State = models.StateHealthAwait
	session.UpdatedAt = time.Now()
	if err := f.saveSession(ctx, session); err != nil {
		return "", err
	}
	slog.Debug("HealthCheckFlow.askCurrent: suspended awaiting answer",
		"userID", session.UserID, "questionID", question.ID, "attempts", session.QuestionAttempts)
	return rendered, nil
}

// renderQuestion asks the language model to voice the question naturally,
// with previously validated answers as context and a retry hint when the
// question is being re-asked. Generation failure falls back to the plain
// question text so the call never stalls.
func (f *HealthCheckFlow) renderQuestion(ctx context.Context, session *models.HealthCheckSession, q models.Question) string {
	var sb strings.Builder
	sb.WriteString("You are conducting a gentle spoken health check-in over the phone. ")
	sb.WriteString("Ask exactly the question given, conversationally, in one or two short sentences. Do not answer it yourself.\n")
	if answered := validAnswerSummary(session); answered != "" {
		sb.WriteString("Answers so far:\n")
		sb.WriteString(answered)
	}
	if session.QuestionAttempts > 0 {
		sb.WriteString(fmt.Sprintf("The previous answer could not be understood (attempt %d). Kindly rephrase and remind the user of the expected kind of answer.\n", session.QuestionAttempts+1))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(sb.String()),
		openai.UserMessage("Question to ask: " + q.Prompt),
	}
	rendered, err := f.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil || strings.TrimSpace(rendered) == "" {
		slog.Warn("HealthCheckFlow.renderQuestion: generation failed, using plain question text", "error", err, "questionID", q.ID)
		return q.Prompt
	}
	return rendered
}

// validAnswerSummary lists the validated answers so far for prompt context.
func validAnswerSummary(session *models.HealthCheckSession) string {
	var sb strings.Builder
	for _, rec := range session.Answers {
		if !rec.Valid {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", rec.Question.ID, rec.Answer))
	}
	return sb.String()
}

// finalize parses the recorded answers into a HealthCheckResult, hands it
// to the result sink, and removes the checkpoint. A persistence failure is
// logged and masked; the user always hears the normal closing message.
func (f *HealthCheckFlow) finalize(ctx context.Context, session *models.HealthCheckSession) (string, error) {
	session.Complete = true
	session.State = models.StateHealthFinalize
	result := parseResults(session)

	if err := f.results.SaveHealthCheckResult(result); err != nil {
		slog.Error("HealthCheckFlow.finalize: persisting results failed, masking from user",
			"error", err, "userID", session.UserID, "conversationID", session.ConversationID)
	} else {
		slog.Info("HealthCheckFlow.finalize: results persisted",
			"userID", session.UserID, "conversationID", session.ConversationID,
			"wellbeing", result.WellbeingScore, "sleep", result.SleepScore)
	}

	key := HealthCheckKey(session.UserID, session.ConversationID)
	if err := f.sessions.Delete(ctx, key); err != nil {
		slog.Warn("HealthCheckFlow.finalize: checkpoint cleanup failed", "error", err, "key", key)
	}
	return healthCheckClosing, nil
}

// parseResults turns the answer records into domain records. Invalid
// answers travel with Valid=false so downstream consumers can filter.
func parseResults(session *models.HealthCheckSession) models.HealthCheckResult {
	result := models.HealthCheckResult{
		UserID:         session.UserID,
		ConversationID: session.ConversationID,
		CompletedAt:    time.Now(),
	}
	for _, rec := range session.Answers {
		switch {
		case rec.Question.ID == "wellbeing":
			if rec.Valid {
				result.WellbeingScore, _ = strconv.Atoi(rec.Answer)
			}
		case rec.Question.ID == "sleep":
			if rec.Valid {
				result.SleepScore, _ = strconv.Atoi(rec.Answer)
			}
		case rec.Question.ID == "symptoms":
			result.Symptoms = rec.Answer
		case rec.Question.ID == "notes":
			result.Notes = rec.Answer
		case rec.Question.Category == models.CategoryMedication:
			result.Medications = append(result.Medications, models.MedicationAdherence{
				MedicationID: rec.Question.RelatedEntityID,
				Taken:        rec.Valid && rec.Answer == "yes",
				Answer:       rec.Answer,
				Valid:        rec.Valid,
			})
		case rec.Question.Category == models.CategoryCondition:
			result.Conditions = append(result.Conditions, models.ConditionNote{
				ConditionID: rec.Question.RelatedEntityID,
				Note:        rec.Answer,
				Valid:       rec.Valid,
			})
		}
	}
	return result
}

// loadSession deserializes the checkpoint under key, or nil when absent.
func (f *HealthCheckFlow) loadSession(ctx context.Context, key string) (*models.HealthCheckSession, error) {
	raw, err := f.sessions.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load health check checkpoint: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var session models.HealthCheckSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		slog.Error("HealthCheckFlow.loadSession: corrupt checkpoint, discarding", "error", err, "key", key)
		return nil, nil
	}
	return &session, nil
}

// saveSession serializes the checkpoint under the session's key.
func (f *HealthCheckFlow) saveSession(ctx context.Context, session *models.HealthCheckSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal health check session: %w", err)
	}
	key := HealthCheckKey(session.UserID, session.ConversationID)
	if err := f.sessions.Set(ctx, key, string(raw), f.sessionTTL); err != nil {
		return fmt.Errorf("failed to persist health check checkpoint: %w", err)
	}
	return nil
}
