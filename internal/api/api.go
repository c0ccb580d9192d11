// Package api exposes the HTTP surface of the check-in service: a JSON API
// for driving conversation turns, placing calls and ingesting memories, and
// the Twilio voice webhooks that drive a live call turn by turn.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/luminacare/checkincall/internal/flow"
	"github.com/luminacare/checkincall/internal/telephony"
)

// callGreeting opens every answered check-in call.
const callGreeting = "Hello! It's your daily check-in call. How are you doing today?"

// noSpeechReprompt is spoken when the gather returns no transcription.
const noSpeechReprompt = "I'm sorry, I didn't catch that. Could you say it again?"

// MemoryIngestor stores new memory snippets.
type MemoryIngestor interface {
	Ingest(ctx context.Context, userID, text string) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// BaseURL is the externally reachable base URL used to build the
	// webhook action URLs handed to the telephony provider.
	BaseURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBaseURL sets the externally reachable base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// Server routes HTTP traffic into the supervisor and its collaborators.
type Server struct {
	router     chi.Router
	supervisor *flow.Supervisor
	caller     telephony.VoiceCaller
	memories   MemoryIngestor
	addr       string
	baseURL    string
}

// NewServer creates the API server and mounts its routes.
func NewServer(supervisor *flow.Supervisor, caller telephony.VoiceCaller, memories MemoryIngestor, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080", BaseURL: "http://localhost:8080"}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		supervisor: supervisor,
		caller:     caller,
		memories:   memories,
		addr:       cfg.Addr,
		baseURL:    cfg.BaseURL,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/turn", s.handleTurn)
		r.Post("/calls", s.handlePlaceCall)
		r.Post("/memories", s.handleAddMemory)
	})
	r.Post("/twilio/answer", s.handleTwilioAnswer)
	r.Post("/twilio/turn", s.handleTwilioTurn)

	s.router = r
	return s
}

// Handler returns the mounted router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AnswerURL is the webhook URL handed to the telephony provider when a call
// is placed.
func (s *Server) AnswerURL() string {
	return s.baseURL + "/twilio/answer"
}

// Run serves the API until the listener fails.
func (s *Server) Run() error {
	slog.Info("Server.Run: listening", "addr", s.addr, "baseURL", s.baseURL)
	return http.ListenAndServe(s.addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTurn drives one conversation turn over plain JSON. This is the
// transport-agnostic entry point used by tests and non-voice channels.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req flow.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.supervisor.ProcessTurn(r.Context(), req)
	if err != nil {
		slog.Error("Server.handleTurn: turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "turn processing failed")
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type placeCallRequest struct {
	Phone string `json:"phone"`
}

type placeCallResponse struct {
	CallSID string `json:"call_sid"`
}

// handlePlaceCall places an outbound check-in call immediately.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	sid, err := s.caller.PlaceCall(r.Context(), req.Phone, s.AnswerURL())
	if err != nil {
		slog.Error("Server.handlePlaceCall: dial failed", "error", err, "phone", req.Phone)
		writeError(w, http.StatusBadGateway, "failed to place call")
		return
	}
	writeJSONResponse(w, http.StatusCreated, placeCallResponse{CallSID: sid})
}

type addMemoryRequest struct {
	UserID    string `json:"user_id"`
	Highlight string `json:"highlight"`
}

// handleAddMemory ingests one memory snippet for a user.
func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Highlight) == "" {
		writeError(w, http.StatusBadRequest, "user_id and highlight are required")
		return
	}

	if err := s.memories.Ingest(r.Context(), req.UserID, req.Highlight); err != nil {
		slog.Error("Server.handleAddMemory: ingest failed", "error", err, "userID", req.UserID)
		writeError(w, http.StatusInternalServerError, "failed to store memory")
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]string{"status": "stored"})
}

// handleTwilioAnswer greets an answered call and gathers the first reply.
func (s *Server) handleTwilioAnswer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Server.handleTwilioAnswer: form parse failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	slog.Info("Server.handleTwilioAnswer: call answered",
		"callSid", r.FormValue("CallSid"), "to", r.FormValue("To"))
	writeTwiML(w, telephony.RenderGather(callGreeting, s.turnURL()))
}

// handleTwilioTurn receives one transcribed utterance, runs it through the
// supervisor, and answers with the next TwiML instruction. The Twilio call
// SID doubles as the conversation id, which keeps every webhook of one call
// attached to the same session state.
func (s *Server) handleTwilioTurn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Server.handleTwilioTurn: form parse failed", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	callSid := r.FormValue("CallSid")
	speech := strings.TrimSpace(r.FormValue("SpeechResult"))
	if speech == "" {
		slog.Debug("Server.handleTwilioTurn: empty transcription, reprompting", "callSid", callSid)
		writeTwiML(w, telephony.RenderGather(noSpeechReprompt, s.turnURL()))
		return
	}

	resp, err := s.supervisor.ProcessTurn(r.Context(), flow.TurnRequest{
		ConversationID: callSid,
		Phone:          r.FormValue("To"),
		Message:        speech,
	})
	if err != nil {
		slog.Error("Server.handleTwilioTurn: turn failed", "error", err, "callSid", callSid)
		writeTwiML(w, telephony.RenderSayAndHangup("I'm sorry, something went wrong on my end. We'll call again soon. Goodbye."))
		return
	}

	if resp.EndCall {
		writeTwiML(w, telephony.RenderSayAndHangup(resp.Reply))
		return
	}
	writeTwiML(w, telephony.RenderGather(resp.Reply, s.turnURL()))
}

func (s *Server) turnURL() string {
	return s.baseURL + "/twilio/turn"
}
