package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/luminacare/checkincall/internal/catalog"
	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/store"
	"github.com/luminacare/checkincall/internal/topic"
	"github.com/openai/openai-go"
)

// mockGenAI implements genai.ClientInterface for flow tests. With no
// renderFn set, GenerateWithMessages fails, which makes the health-check
// flow fall back to the plain question text; tests assert against the
// catalog prompts directly.
type mockGenAI struct {
	replies    []*genai.CallReply
	replyErr   error
	renderFn   func(messages []openai.ChatCompletionMessageParamUnion) (string, error)
	embedVec   []float64
	embedErr   error
	embedCalls int
	replyCalls int
}

func (m *mockGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if m.renderFn != nil {
		return m.renderFn(messages)
	}
	return "", errors.New("render unavailable")
}

func (m *mockGenAI) GenerateCallReply(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*genai.CallReply, error) {
	m.replyCalls++
	if m.replyErr != nil {
		return nil, m.replyErr
	}
	if len(m.replies) == 0 {
		return &genai.CallReply{Response: "Mm-hmm, tell me more."}, nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockGenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	m.embedCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.embedVec != nil {
		return append([]float64(nil), m.embedVec...), nil
	}
	return []float64{1, 0, 0}, nil
}

// mockRetriever implements MemoryRetriever with canned highlights.
type mockRetriever struct {
	highlights []string
	err        error
	calls      int
}

func (m *mockRetriever) Retrieve(ctx context.Context, userID string, queryVector []float64, k int) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.highlights, nil
}

// flowRig wires the flow layer over an in-memory store for tests.
type flowRig struct {
	store        *store.InMemoryStore
	sessions     SessionManager
	genai        *mockGenAI
	retriever    *mockRetriever
	healthCheck  *HealthCheckFlow
	conversation *ConversationFlow
	supervisor   *Supervisor
}

func newFlowRig(t *testing.T) *flowRig {
	t.Helper()
	st := store.NewInMemoryStore()
	sessions := NewStoreBackedSessionManager(st)
	g := &mockGenAI{}
	r := &mockRetriever{}
	hc := NewHealthCheckFlow(sessions, catalog.NewBuilder(st), g, st)
	conv := NewConversationFlow(sessions, g, r, topic.NewTracker(topic.Config{}), hc, "")
	return &flowRig{
		store:        st,
		sessions:     sessions,
		genai:        g,
		retriever:    r,
		healthCheck:  hc,
		conversation: conv,
		supervisor:   NewSupervisor(st, conv, hc),
	}
}

// fixedPrompt returns the catalog prompt at index i of the fixed prefix.
func fixedPrompt(i int) string {
	return catalog.FixedQuestions()[i].Prompt
}
