package flow

import (
	"context"
	"testing"

	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/models"
)

func TestSupervisorResolvesPhoneAndOpensConversation(t *testing.T) {
	rig := newFlowRig(t)
	rig.store.AddUser("user-1", "+15550001111")
	rig.genai.replies = []*genai.CallReply{{Response: "Hello! How are you today?"}}

	resp, err := rig.supervisor.ProcessTurn(context.Background(), TurnRequest{
		Phone:   "+15550001111",
		Message: "Hello?",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if resp.UserID != "user-1" {
		t.Errorf("expected resolved user-1, got %q", resp.UserID)
	}
	if resp.ConversationID == "" {
		t.Error("expected a new conversation id")
	}
	if resp.CallType != models.CallTypeGeneral {
		t.Errorf("expected general call type, got %q", resp.CallType)
	}

	session, err := rig.store.GetCallSession(resp.ConversationID)
	if err != nil || session == nil {
		t.Fatalf("expected a call session, got %v (err %v)", session, err)
	}
	if session.UserID != "user-1" || session.CallType != models.CallTypeGeneral {
		t.Errorf("unexpected session %+v", session)
	}
}

func TestSupervisorFailsClosedOnUnknownCaller(t *testing.T) {
	rig := newFlowRig(t)

	resp, err := rig.supervisor.ProcessTurn(context.Background(), TurnRequest{
		Phone:   "+15559999999",
		Message: "Hello?",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if resp.Reply != supervisorFallbackReply {
		t.Errorf("expected fallback reply, got %q", resp.Reply)
	}
	if resp.UserID != "" {
		t.Errorf("expected no user resolved, got %q", resp.UserID)
	}
	if rig.genai.replyCalls != 0 {
		t.Errorf("no state machine should run on an unresolved turn, got %d generations", rig.genai.replyCalls)
	}
}

func TestSupervisorReadsSystemContext(t *testing.T) {
	rig := newFlowRig(t)
	rig.genai.replies = []*genai.CallReply{{Response: "Good to talk again!"}}

	resp, err := rig.supervisor.ProcessTurn(context.Background(), TurnRequest{
		SystemContext: `{"conversation_id":"conv-77","user_id":"user-9","call_sid":"CA123"}`,
		Message:       "Hello again",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if resp.UserID != "user-9" || resp.ConversationID != "conv-77" {
		t.Errorf("expected identity from system context, got user=%q conv=%q", resp.UserID, resp.ConversationID)
	}
}

func TestSupervisorHandoffAndCompletion(t *testing.T) {
	rig := newFlowRig(t)
	ctx := context.Background()
	rig.genai.replies = []*genai.CallReply{
		{Response: "It was lovely catching up. One quick thing before you go.", IsEndCallDetected: true},
	}

	// The farewell turn flips the call into health-check mode and the reply
	// is already the first health question.
	resp, err := rig.supervisor.ProcessTurn(ctx, TurnRequest{
		UserID: "user-1", ConversationID: "conv-1",
		Message: "I should get going, talk soon!",
	})
	if err != nil {
		t.Fatalf("handoff turn failed: %v", err)
	}
	if resp.CallType != models.CallTypeHealthCheck {
		t.Fatalf("expected health_check mode after handoff, got %q", resp.CallType)
	}
	if resp.Reply != fixedPrompt(0) {
		t.Errorf("expected first health question, got %q", resp.Reply)
	}

	// Subsequent turns route to the health-check machine.
	answers := []string{"8", "nothing to report", "9", "skip"}
	for i, a := range answers {
		resp, err = rig.supervisor.ProcessTurn(ctx, TurnRequest{
			UserID: "user-1", ConversationID: "conv-1", Message: a,
		})
		if err != nil {
			t.Fatalf("answer %d failed: %v", i, err)
		}
	}
	if resp.Reply != healthCheckClosing {
		t.Errorf("expected closing message, got %q", resp.Reply)
	}
	if resp.CallType != models.CallTypeGeneral {
		t.Errorf("expected mode flipped back to general on completion, got %q", resp.CallType)
	}
	if !resp.EndCall {
		t.Error("expected end-call signal on completion")
	}
	if len(rig.store.HealthCheckResults()) != 1 {
		t.Errorf("expected 1 persisted result, got %d", len(rig.store.HealthCheckResults()))
	}

	// A further farewell no longer restarts the health check.
	rig.genai.replies = []*genai.CallReply{{Response: "Goodbye for now, take care!", IsEndCallDetected: true}}
	resp, err = rig.supervisor.ProcessTurn(ctx, TurnRequest{
		UserID: "user-1", ConversationID: "conv-1", Message: "Goodbye then!",
	})
	if err != nil {
		t.Fatalf("final turn failed: %v", err)
	}
	if resp.CallType != models.CallTypeGeneral {
		t.Errorf("expected general mode on the wrap-up turn, got %q", resp.CallType)
	}
	if resp.Reply != "Goodbye for now, take care!" {
		t.Errorf("unexpected wrap-up reply %q", resp.Reply)
	}
}
