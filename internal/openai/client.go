package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultChatModel is the model used for answer generation
	DefaultChatModel = openai.GPT4oMini
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrEmptyCompletion is returned when the provider returns no usable text
	ErrEmptyCompletion = errors.New("completion returned no text")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// CompletionAPI defines the interface for single-prompt text generation
type CompletionAPI interface {
	CreateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// CompletionOptions bounds a generation request.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float32
}

// Client wraps the OpenAI API client
type Client struct {
	api        EmbeddingAPI
	chat       CompletionAPI
	dimensions int
}

type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	return &OpenAIAdapter{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateCompletion sends the prompt as a single user message and returns the first choice.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey  string
	BaseURL string

	EmbeddingModel openai.EmbeddingModel
	// EmbeddingDimensions of 0 accepts any non-empty vector.
	EmbeddingDimensions int
	ChatModel           string
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	adapter := NewOpenAIAdapter(cfg)
	return &Client{
		api:        adapter,
		chat:       adapter,
		dimensions: cfg.EmbeddingDimensions,
	}
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(embedding) == 0 {
		return nil, ErrWrongDimensions
	}
	if c.dimensions > 0 && len(embedding) != c.dimensions {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// GenerateText runs one completion for prompt and returns the trimmed text.
func (c *Client) GenerateText(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if prompt == "" {
		return "", ErrEmptyText
	}

	opts := CompletionOptions{MaxTokens: maxTokens, Temperature: temperature}
	text, err := c.chat.CreateCompletion(ctx, prompt, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	return text, nil
}
