// Package genai provides language-model operations using the OpenAI API:
// free-form reply generation, structured call-reply generation, and text
// embeddings.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the completion API returned no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrNoEmbeddingReturned indicates the embeddings API returned no data.
var ErrNoEmbeddingReturned = errors.New("no embedding returned")

// CallReply is the structured reply shape requested from the model during
// general conversation.
type CallReply struct {
	Response          string `json:"response"`
	IsEndCallDetected bool   `json:"is_end_call_detected"`
}

// ClientInterface defines the language-model operations consumed by the
// flow layer.
type ClientInterface interface {
	// GenerateWithMessages runs a plain chat completion over the messages.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)

	// GenerateCallReply runs a chat completion constrained to the CallReply
	// JSON shape. Output that fails to parse is recovered locally: the raw
	// text becomes the response with the end-call flag false.
	GenerateCallReply(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*CallReply, error)

	// Embed returns the embedding vector for a text snippet.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// embeddingService defines the minimal interface for embeddings.
type embeddingService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey         string
	Model          openai.ChatModel
	EmbeddingModel openai.EmbeddingModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model openai.EmbeddingModel) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// Client wraps the OpenAI chat and embedding services.
type Client struct {
	chat           chatService
	embeddings     embeddingService
	model          openai.ChatModel
	embeddingModel openai.EmbeddingModel
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client initialized", "model", cfg.Model, "embeddingModel", cfg.EmbeddingModel)
	return &Client{
		chat:           &cli.Chat.Completions,
		embeddings:     &cli.Embeddings,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// GenerateWithMessages runs a plain chat completion over the messages.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// callReplySchema constrains the model to the CallReply JSON shape.
var callReplySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"response": map[string]interface{}{
			"type":        "string",
			"description": "The spoken reply for the user.",
		},
		"is_end_call_detected": map[string]interface{}{
			"type":        "boolean",
			"description": "True when the user is wrapping up the call.",
		},
	},
	"required":             []string{"response", "is_end_call_detected"},
	"additionalProperties": false,
}

// GenerateCallReply runs a chat completion constrained to the CallReply
// shape. Malformed model output never reaches the caller as an error: the
// raw text is returned as the response with the end-call flag false.
func (c *Client) GenerateCallReply(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*CallReply, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "call_reply",
					Description: openai.String("Reply with end-of-call detection"),
					Schema:      callReplySchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		slog.Error("genai.GenerateCallReply: completion failed", "error", err)
		return nil, fmt.Errorf("structured completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	return ParseCallReply(resp.Choices[0].Message.Content), nil
}

// ParseCallReply parses the model output into a CallReply, falling back to
// treating the raw text as the response when the output is not the expected
// shape. The anomaly is logged, never raised.
func ParseCallReply(raw string) *CallReply {
	var reply CallReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil || reply.Response == "" {
		slog.Warn("genai.ParseCallReply: malformed structured output, falling back to raw text", "error", err, "rawLength", len(raw))
		return &CallReply{Response: raw, IsEndCallDetected: false}
	}
	return &reply
}

// Embed returns the embedding vector for a text snippet.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		slog.Error("genai.Embed: embedding request failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingReturned
	}
	return resp.Data[0].Embedding, nil
}
