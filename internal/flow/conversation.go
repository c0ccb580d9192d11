// Package flow implements the conversation state machine.
//
// One inbound turn runs the pipeline classify intent, optionally retrieve
// memories, check topic fatigue, then generate a structured reply. When the
// model detects the user wrapping up and the health check has not yet run
// this call, the turn hands off to the health-check machine and the first
// question becomes this turn's reply.
package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/models"
	"github.com/luminacare/checkincall/internal/topic"
	"github.com/openai/openai-go"
)

// Conversation tuning.
const (
	// DefaultMemoryK is the maximum number of memory highlights per turn.
	DefaultMemoryK = 5

	// retrievalFatigueThreshold is the fatigue score above which memories
	// are refreshed even without a topic change.
	retrievalFatigueThreshold = 0.25

	// maxTranscriptMessages bounds the prompt context to roughly the last
	// ten turns.
	maxTranscriptMessages = 20

	// DefaultConversationTTL bounds how long transcript and topic state
	// outlive the conversation.
	DefaultConversationTTL = 24 * time.Hour
)

// conversationFallbackReply masks generation failures from the user.
const conversationFallbackReply = "I'm sorry, I lost my train of thought for a moment. Could you say that again?"

// defaultSystemPrompt is used when no prompt is configured.
const defaultSystemPrompt = "You are a warm, attentive phone companion for an older adult. Keep replies short, spoken-style, and personal. Never mention that you are an AI system."

// MemoryRetriever fetches ranked memory highlights for a user.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID string, queryVector []float64, k int) ([]string, error)
}

// transcript is the persisted conversation history for one conversation.
type transcript struct {
	Messages []models.ConversationMessage `json:"messages"`
}

// conversationTurn holds the transient per-invocation fields of one pass
// through the pipeline. It is never persisted.
type conversationTurn struct {
	classification Classification
	memories       []string
	guidance       string
	reply          *genai.CallReply
}

// ConversationFlow is the general-dialogue state machine.
type ConversationFlow struct {
	sessions     SessionManager
	genaiClient  genai.ClientInterface
	retriever    MemoryRetriever
	tracker      *topic.Tracker
	healthCheck  *HealthCheckFlow
	systemPrompt string
	memoryK      int
}

// NewConversationFlow creates a conversation flow with its dependencies.
// An empty system prompt selects the built-in default.
func NewConversationFlow(sessions SessionManager, genaiClient genai.ClientInterface, retriever MemoryRetriever, tracker *topic.Tracker, healthCheck *HealthCheckFlow, systemPrompt string) *ConversationFlow {
	slog.Debug("ConversationFlow.NewConversationFlow: creating flow", "hasRetriever", retriever != nil, "customPrompt", systemPrompt != "")
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &ConversationFlow{
		sessions:     sessions,
		genaiClient:  genaiClient,
		retriever:    retriever,
		tracker:      tracker,
		healthCheck:  healthCheck,
		systemPrompt: systemPrompt,
		memoryK:      DefaultMemoryK,
	}
}

// ProcessTurn advances the conversation by one turn. It returns the reply
// to speak and whether this turn handed off into a health check (in which
// case the reply is the first health question).
func (f *ConversationFlow) ProcessTurn(ctx context.Context, userID, conversationID, userMessage string) (string, bool, error) {
	// An end-of-call signal latched on a prior turn routes straight into
	// the health check if it hasn't run this call.
	if f.endCallLatched(ctx, conversationID) && !f.healthCheckDone(ctx, conversationID) {
		slog.Info("ConversationFlow.ProcessTurn: end-call latched, starting health check", "userID", userID, "conversationID", conversationID)
		f.appendTranscript(ctx, conversationID, "user", userMessage)
		reply, err := f.healthCheck.Begin(ctx, userID, conversationID)
		if err != nil {
			return "", false, err
		}
		f.appendTranscript(ctx, conversationID, "assistant", reply)
		return reply, true, nil
	}

	turn := &conversationTurn{classification: ClassifyIntent(userMessage)}
	slog.Debug("ConversationFlow.ProcessTurn: classified intent",
		"step", models.StepClassifyIntent, "userID", userID,
		"retrieve", turn.classification.ShouldRetrieve,
		"bucket", turn.classification.LengthBucket, "continuation", turn.classification.IsContinuation)

	if turn.classification.ShouldRetrieve {
		f.retrieveMemories(ctx, userID, conversationID, userMessage, turn)
	}

	f.generateResponse(ctx, conversationID, userMessage, turn)

	f.appendTranscript(ctx, conversationID, "user", userMessage)
	f.appendTranscript(ctx, conversationID, "assistant", turn.reply.Response)

	if turn.reply.IsEndCallDetected {
		f.latchEndCall(ctx, conversationID)
		if !f.healthCheckDone(ctx, conversationID) {
			slog.Info("ConversationFlow.ProcessTurn: end call detected, handing off to health check",
				"step", models.StepStartHealthCheck, "userID", userID, "conversationID", conversationID)
			reply, err := f.healthCheck.Begin(ctx, userID, conversationID)
			if err != nil {
				return "", false, err
			}
			f.appendTranscript(ctx, conversationID, "assistant", reply)
			return reply, true, nil
		}
	}

	return turn.reply.Response, false, nil
}

// retrieveMemories embeds the message, folds it into the topic state, and
// fetches or reuses cached highlights when the topic changed or fatigue
// passed the retrieval threshold. Failures here degrade to a turn without
// memories; they never abort the turn.
func (f *ConversationFlow) retrieveMemories(ctx context.Context, userID, conversationID, userMessage string, turn *conversationTurn) {
	embedding, err := f.genaiClient.Embed(ctx, userMessage)
	if err != nil {
		slog.Warn("ConversationFlow.retrieveMemories: embedding failed, skipping retrieval", "error", err, "userID", userID)
		return
	}

	state := f.loadTopicState(ctx, conversationID)
	state, changed := f.tracker.Observe(state, embedding, len(userMessage))
	fatigue := f.tracker.Fatigue(state)
	turn.guidance = topic.Guidance(fatigue)

	if changed || fatigue >= retrievalFatigueThreshold {
		if f.tracker.CacheStale(state) {
			slog.Debug("ConversationFlow.retrieveMemories: cache stale, fetching fresh highlights",
				"step", models.StepRetrieveMemories, "userID", userID)
			highlights, err := f.retriever.Retrieve(ctx, userID, embedding, f.memoryK)
			if err != nil {
				slog.Warn("ConversationFlow.retrieveMemories: retrieval failed, continuing without memories", "error", err, "userID", userID)
			} else {
				state = f.tracker.RefreshAnchor(state, highlights)
				turn.memories = highlights
			}
		} else {
			turn.memories = state.CachedHighlights
		}
	}

	slog.Debug("ConversationFlow.retrieveMemories: topic observed",
		"step", models.StepCheckFatigue, "userID", userID,
		"topicChanged", changed, "fatigue", fatigue,
		"similarity", state.LastSimilarity, "memories", len(turn.memories))
	f.saveTopicState(ctx, conversationID, state)
}

// generateResponse builds the prompt and requests the structured reply.
// Generation failure is masked with a safe fallback, never surfaced.
func (f *ConversationFlow) generateResponse(ctx context.Context, conversationID, userMessage string, turn *conversationTurn) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(f.systemPrompt)}

	if len(turn.memories) > 0 {
		messages = append(messages, openai.SystemMessage("Things you remember about this person:\n- "+strings.Join(turn.memories, "\n- ")))
	}
	if turn.guidance != "" {
		messages = append(messages, openai.SystemMessage(turn.guidance))
	}
	for _, msg := range f.recentTranscript(ctx, conversationID) {
		if msg.Role == "user" {
			messages = append(messages, openai.UserMessage(msg.Content))
		} else if msg.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	slog.Debug("ConversationFlow.generateResponse: generating reply",
		"step", models.StepGenerateResponse, "conversationID", conversationID,
		"memories", len(turn.memories), "guidance", turn.guidance != "")
	reply, err := f.genaiClient.GenerateCallReply(ctx, messages)
	if err != nil {
		slog.Error("ConversationFlow.generateResponse: generation failed, using fallback reply", "error", err, "conversationID", conversationID)
		reply = &genai.CallReply{Response: conversationFallbackReply}
	}
	turn.reply = reply
}

// endCallLatched reports whether an end-of-call signal was latched on a
// prior turn of this conversation.
func (f *ConversationFlow) endCallLatched(ctx context.Context, conversationID string) bool {
	value, err := f.sessions.Get(ctx, EndCallLatchKey(conversationID))
	if err != nil {
		slog.Warn("ConversationFlow.endCallLatched: read failed", "error", err, "conversationID", conversationID)
		return false
	}
	return value == "true"
}

// latchEndCall records the end-of-call signal for later turns.
func (f *ConversationFlow) latchEndCall(ctx context.Context, conversationID string) {
	if err := f.sessions.Set(ctx, EndCallLatchKey(conversationID), "true", DefaultConversationTTL); err != nil {
		slog.Warn("ConversationFlow.latchEndCall: write failed", "error", err, "conversationID", conversationID)
	}
}

// healthCheckDone reports whether the health check already completed this
// call.
func (f *ConversationFlow) healthCheckDone(ctx context.Context, conversationID string) bool {
	value, err := f.sessions.Get(ctx, HealthCheckDoneKey(conversationID))
	if err != nil {
		slog.Warn("ConversationFlow.healthCheckDone: read failed", "error", err, "conversationID", conversationID)
		return false
	}
	return value == "true"
}

// MarkHealthCheckDone records health-check completion for this call; the
// supervisor calls it when the health-check machine finishes.
func (f *ConversationFlow) MarkHealthCheckDone(ctx context.Context, conversationID string) {
	if err := f.sessions.Set(ctx, HealthCheckDoneKey(conversationID), "true", DefaultConversationTTL); err != nil {
		slog.Warn("ConversationFlow.MarkHealthCheckDone: write failed", "error", err, "conversationID", conversationID)
	}
}

// loadTopicState deserializes the conversation's topic state, or a zero
// state when absent or corrupt.
func (f *ConversationFlow) loadTopicState(ctx context.Context, conversationID string) models.TopicState {
	raw, err := f.sessions.Get(ctx, TopicStateKey(conversationID))
	if err != nil || raw == "" {
		return models.TopicState{}
	}
	var state models.TopicState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Warn("ConversationFlow.loadTopicState: corrupt topic state, resetting", "error", err, "conversationID", conversationID)
		return models.TopicState{}
	}
	return state
}

// saveTopicState persists the conversation's topic state.
func (f *ConversationFlow) saveTopicState(ctx context.Context, conversationID string, state models.TopicState) {
	raw, err := json.Marshal(state)
	if err != nil {
		slog.Error("ConversationFlow.saveTopicState: marshal failed", "error", err, "conversationID", conversationID)
		return
	}
	if err := f.sessions.Set(ctx, TopicStateKey(conversationID), string(raw), DefaultConversationTTL); err != nil {
		slog.Warn("ConversationFlow.saveTopicState: write failed", "error", err, "conversationID", conversationID)
	}
}

// recentTranscript returns the last messages of the conversation, bounded
// to the prompt context window.
func (f *ConversationFlow) recentTranscript(ctx context.Context, conversationID string) []models.ConversationMessage {
	raw, err := f.sessions.Get(ctx, TranscriptKey(conversationID))
	if err != nil || raw == "" {
		return nil
	}
	var t transcript
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		slog.Warn("ConversationFlow.recentTranscript: corrupt transcript, resetting", "error", err, "conversationID", conversationID)
		return nil
	}
	if len(t.Messages) > maxTranscriptMessages {
		t.Messages = t.Messages[len(t.Messages)-maxTranscriptMessages:]
	}
	return t.Messages
}

// appendTranscript appends one message to the conversation transcript.
// Transcript failures are logged but never fail the turn.
func (f *ConversationFlow) appendTranscript(ctx context.Context, conversationID, role, content string) {
	raw, err := f.sessions.Get(ctx, TranscriptKey(conversationID))
	if err != nil {
		slog.Warn("ConversationFlow.appendTranscript: read failed", "error", err, "conversationID", conversationID)
		return
	}
	var t transcript
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			slog.Warn("ConversationFlow.appendTranscript: corrupt transcript, resetting", "error", err, "conversationID", conversationID)
			t = transcript{}
		}
	}
	t.Messages = append(t.Messages, models.ConversationMessage{Role: role, Content: content, Timestamp: time.Now()})
	if len(t.Messages) > maxTranscriptMessages*2 {
		t.Messages = t.Messages[len(t.Messages)-maxTranscriptMessages*2:]
	}
	updated, err := json.Marshal(t)
	if err != nil {
		slog.Error("ConversationFlow.appendTranscript: marshal failed", "error", err, "conversationID", conversationID)
		return
	}
	if err := f.sessions.Set(ctx, TranscriptKey(conversationID), string(updated), DefaultConversationTTL); err != nil {
		slog.Warn("ConversationFlow.appendTranscript: write failed", "error", err, "conversationID", conversationID)
	}
}
