package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp openai.ChatCompletion
	err  error
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &m.resp, m.err
}

// mockEmbeddingService implements embeddingService for testing.
type mockEmbeddingService struct {
	resp openai.CreateEmbeddingResponse
	err  error
}

func (m *mockEmbeddingService) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	return &m.resp, m.err
}

func chatReply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: chatReply("Hello there")}, model: openai.ChatModelGPT4oMini}
	out, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello there" {
		t.Errorf("expected 'Hello there', got %q", out)
	}
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GenerateWithMessages(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.GenerateWithMessages(context.Background(), nil)
	if err != ErrNoChoicesReturned {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestGenerateCallReply_ParsesStructuredOutput(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: chatReply(`{"response":"Take care now!","is_end_call_detected":true}`)}}
	reply, err := client.GenerateCallReply(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Response != "Take care now!" {
		t.Errorf("unexpected response: %q", reply.Response)
	}
	if !reply.IsEndCallDetected {
		t.Error("expected end-call flag true")
	}
}

func TestGenerateCallReply_MalformedOutputFallsBack(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: chatReply("Sure, let me just say that plainly.")}}
	reply, err := client.GenerateCallReply(context.Background(), nil)
	if err != nil {
		t.Fatalf("malformed output must not surface as error, got %v", err)
	}
	if reply.Response != "Sure, let me just say that plainly." {
		t.Errorf("expected raw text fallback, got %q", reply.Response)
	}
	if reply.IsEndCallDetected {
		t.Error("fallback must default end-call flag to false")
	}
}

func TestParseCallReply_EmptyResponseFieldFallsBack(t *testing.T) {
	reply := ParseCallReply(`{"is_end_call_detected":true}`)
	if reply.IsEndCallDetected {
		t.Error("fallback must not trust a partial parse")
	}
}

func TestEmbed_Success(t *testing.T) {
	client := &Client{embeddings: &mockEmbeddingService{resp: openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float64{0.25, -0.5}}},
	}}}
	vec, err := client.Embed(context.Background(), "gardening")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.25 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestEmbed_NoData(t *testing.T) {
	client := &Client{embeddings: &mockEmbeddingService{resp: openai.CreateEmbeddingResponse{}}}
	_, err := client.Embed(context.Background(), "x")
	if err != ErrNoEmbeddingReturned {
		t.Errorf("expected ErrNoEmbeddingReturned, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}
