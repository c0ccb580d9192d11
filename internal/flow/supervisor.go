package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/luminacare/checkincall/internal/models"
	"github.com/luminacare/checkincall/internal/store"
)

// supervisorFallbackReply is spoken when a turn cannot be attributed to any
// user. Routing fails closed: no state machine runs on an unresolved turn.
const supervisorFallbackReply = "I'm sorry, I'm having a little trouble on my end right now. Let's try again in a moment."

// TurnRequest is one inbound telephony turn. Identity may arrive as
// explicit ids, as a system-context blob from the telephony provider, or
// only as the caller's phone number; the supervisor resolves them in that
// order.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Phone          string `json:"phone,omitempty"`
	SystemContext  string `json:"system_context,omitempty"`
	Message        string `json:"message"`
}

// TurnResponse is the routed outcome of one turn. EndCall is set when the
// health check completed on this turn, meaning the call can wind down.
type TurnResponse struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Reply          string          `json:"reply"`
	CallType       models.CallType `json:"call_type"`
	EndCall        bool            `json:"end_call"`
}

// systemContext is the subset of the provider's context blob we read.
type systemContext struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Supervisor routes each inbound turn to the state machine that owns the
// call's current mode and records mode transitions on the call session.
type Supervisor struct {
	store        store.Store
	conversation *ConversationFlow
	healthCheck  *HealthCheckFlow
}

// NewSupervisor creates a supervisor over the two state machines.
func NewSupervisor(st store.Store, conversation *ConversationFlow, healthCheck *HealthCheckFlow) *Supervisor {
	slog.Debug("Supervisor.NewSupervisor: creating supervisor")
	return &Supervisor{store: st, conversation: conversation, healthCheck: healthCheck}
}

// ProcessTurn resolves the caller, dispatches the turn to the active state
// machine, and flips the call's mode on handoff or completion.
func (s *Supervisor) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	userID, conversationID := s.resolveIdentity(req)
	if userID == "" {
		slog.Warn("Supervisor.ProcessTurn: could not resolve caller, failing closed",
			"phone", req.Phone, "hasSystemContext", req.SystemContext != "")
		return &TurnResponse{Reply: supervisorFallbackReply, CallType: models.CallTypeGeneral}, nil
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
		slog.Info("Supervisor.ProcessTurn: new conversation", "userID", userID, "conversationID", conversationID)
	}

	session, err := s.loadOrCreateSession(userID, conversationID)
	if err != nil {
		return nil, err
	}

	var reply string
	var endCall bool
	switch session.CallType {
	case models.CallTypeHealthCheck:
		var done bool
		reply, done, err = s.healthCheck.ProcessTurn(ctx, userID, conversationID, req.Message)
		if err != nil {
			return nil, err
		}
		if done {
			s.conversation.MarkHealthCheckDone(ctx, conversationID)
			s.setCallType(session, models.CallTypeGeneral)
			endCall = true
		}

	default:
		var startedHealthCheck bool
		reply, startedHealthCheck, err = s.conversation.ProcessTurn(ctx, userID, conversationID, req.Message)
		if err != nil {
			return nil, err
		}
		if startedHealthCheck {
			s.setCallType(session, models.CallTypeHealthCheck)
		}
	}

	return &TurnResponse{
		ConversationID: conversationID,
		UserID:         userID,
		Reply:          reply,
		CallType:       session.CallType,
		EndCall:        endCall,
	}, nil
}

// resolveIdentity resolves the turn to a user and conversation. Explicit
// ids win, then ids embedded in the provider's system-context blob, then a
// phone lookup. Lookup errors resolve to no user.
func (s *Supervisor) resolveIdentity(req TurnRequest) (userID, conversationID string) {
	userID, conversationID = req.UserID, req.ConversationID

	if (userID == "" || conversationID == "") && req.SystemContext != "" {
		var sc systemContext
		if err := json.Unmarshal([]byte(req.SystemContext), &sc); err != nil {
			slog.Warn("Supervisor.resolveIdentity: unparseable system context", "error", err)
		} else {
			if userID == "" {
				userID = sc.UserID
			}
			if conversationID == "" {
				conversationID = sc.ConversationID
			}
		}
	}

	if userID == "" && req.Phone != "" {
		found, err := s.store.FindUserByPhone(req.Phone)
		if err != nil {
			slog.Error("Supervisor.resolveIdentity: phone lookup failed", "error", err, "phone", req.Phone)
			return "", ""
		}
		userID = found
	}
	return userID, conversationID
}

// loadOrCreateSession loads the call session for the conversation, creating
// a fresh general-mode session when none exists.
func (s *Supervisor) loadOrCreateSession(userID, conversationID string) (*models.CallSession, error) {
	session, err := s.store.GetCallSession(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load call session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	now := time.Now()
	session = &models.CallSession{
		ConversationID: conversationID,
		UserID:         userID,
		CallType:       models.CallTypeGeneral,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveCallSession(*session); err != nil {
		return nil, fmt.Errorf("failed to create call session: %w", err)
	}
	slog.Debug("Supervisor.loadOrCreateSession: created session", "userID", userID, "conversationID", conversationID)
	return session, nil
}

// setCallType flips the call's mode and persists it. A persistence failure
// is logged; the reply for this turn still goes out.
func (s *Supervisor) setCallType(session *models.CallSession, t models.CallType) {
	session.CallType = t
	session.UpdatedAt = time.Now()
	if err := s.store.SaveCallSession(*session); err != nil {
		slog.Error("Supervisor.setCallType: persisting mode change failed", "error", err, "conversationID", session.ConversationID, "callType", t)
	}
}
