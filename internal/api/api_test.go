package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/luminacare/checkincall/internal/catalog"
	"github.com/luminacare/checkincall/internal/flow"
	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/memory"
	"github.com/luminacare/checkincall/internal/store"
	"github.com/luminacare/checkincall/internal/telephony"
	"github.com/luminacare/checkincall/internal/topic"
)

// stubGenAI is a canned genai.ClientInterface for handler tests.
type stubGenAI struct {
	reply string
}

func (s *stubGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return "", context.Canceled // health-check rendering falls back to plain prompts
}

func (s *stubGenAI) GenerateCallReply(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*genai.CallReply, error) {
	reply := s.reply
	if reply == "" {
		reply = "That's wonderful to hear."
	}
	return &genai.CallReply{Response: reply}, nil
}

func (s *stubGenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0, 0}, nil
}

// testServer wires a Server over an in-memory store.
func testServer(t *testing.T) (*Server, *store.InMemoryStore, *telephony.MockCaller) {
	t.Helper()
	st := store.NewInMemoryStore()
	g := &stubGenAI{}
	sessions := flow.NewStoreBackedSessionManager(st)
	retriever := memory.NewRetriever(st, g)
	hc := flow.NewHealthCheckFlow(sessions, catalog.NewBuilder(st), g, st)
	conv := flow.NewConversationFlow(sessions, g, retriever, topic.NewTracker(topic.Config{}), hc, "")
	sup := flow.NewSupervisor(st, conv, hc)
	caller := &telephony.MockCaller{}
	srv := NewServer(sup, caller, retriever, WithBaseURL("https://calls.example.com"))
	return srv, st, caller
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestTurnEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	body := `{"user_id":"user-1","conversation_id":"conv-1","message":"I had a lovely walk this morning"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/turn", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "That's wonderful to hear.") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestTurnEndpointRejectsEmptyMessage(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/turn", strings.NewReader(`{"user_id":"user-1"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestPlaceCallEndpoint(t *testing.T) {
	srv, _, caller := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(`{"phone":"+15550001111"}`)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(caller.PlacedCalls) != 1 {
		t.Fatalf("expected 1 placed call, got %d", len(caller.PlacedCalls))
	}
	if caller.PlacedCalls[0].AnswerURL != "https://calls.example.com/twilio/answer" {
		t.Errorf("unexpected answer URL %q", caller.PlacedCalls[0].AnswerURL)
	}
}

func TestAddMemoryEndpoint(t *testing.T) {
	srv, st, _ := testServer(t)
	body := `{"user_id":"user-1","highlight":"Has a cat named Biscuit"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/memories", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	memories, err := st.ListMemories("user-1")
	if err != nil || len(memories) != 1 {
		t.Fatalf("expected 1 stored memory, got %d (err %v)", len(memories), err)
	}
	if memories[0].Highlight != "Has a cat named Biscuit" {
		t.Errorf("unexpected highlight %q", memories[0].Highlight)
	}
}

func TestTwilioAnswerWebhook(t *testing.T) {
	srv, _, _ := testServer(t)
	form := url.Values{"CallSid": {"CA123"}, "To": {"+15550001111"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/answer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, callGreeting) {
		t.Errorf("expected greeting in TwiML, got %s", body)
	}
	if !strings.Contains(body, `action="https://calls.example.com/twilio/turn"`) {
		t.Errorf("expected turn action URL, got %s", body)
	}
}

func TestTwilioTurnWebhook(t *testing.T) {
	srv, st, _ := testServer(t)
	st.AddUser("user-1", "+15550001111")

	form := url.Values{
		"CallSid":      {"CA123"},
		"To":           {"+15550001111"},
		"SpeechResult": {"I had a lovely walk this morning"},
	}
	req := httptest.NewRequest(http.MethodPost, "/twilio/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "That's wonderful to hear.") {
		t.Errorf("expected supervisor reply in TwiML, got %s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected a gather to continue the call, got %s", body)
	}

	// The call SID doubles as the conversation id.
	session, err := st.GetCallSession("CA123")
	if err != nil || session == nil {
		t.Fatalf("expected a call session keyed by call SID, got %v (err %v)", session, err)
	}
	if session.UserID != "user-1" {
		t.Errorf("expected session bound to user-1, got %q", session.UserID)
	}
}

func TestTwilioTurnWebhookRepromptsOnSilence(t *testing.T) {
	srv, _, _ := testServer(t)
	form := url.Values{"CallSid": {"CA123"}, "To": {"+15550001111"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), noSpeechReprompt) {
		t.Errorf("expected reprompt, got %s", rec.Body.String())
	}
}
