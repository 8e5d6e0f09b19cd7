// Package openaicompat streams answers from any OpenAI-compatible chat completions API.
package openaicompat

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Generator struct {
	client   openai.Client
	cfg      Config
	executor *resilience.Executor
}

// NewGenerator disables SDK retries; the executor owns retry and breaking.
func NewGenerator(cfg Config, executor *resilience.Executor) (*Generator, error) {
	if cfg.Model == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai generator", errors.New("model is required"))
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{
		client:   openai.NewClient(opts...),
		cfg:      cfg,
		executor: executor,
	}, nil
}

func (g *Generator) params(query string, contexts []domain.FusedResult) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.Answer(query, contexts)),
		},
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.cfg.MaxTokens))
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = openai.Float(g.cfg.Temperature)
	}
	return params
}

func (g *Generator) GenerateStream(ctx context.Context, query string, contexts []domain.FusedResult) (<-chan domain.GenerationChunk, error) {
	params := g.params(query, contexts)
	stream, err := resilience.Call(ctx, g.executor, "openai.chat_stream", func(ctx context.Context) (*ssestream.Stream[openai.ChatCompletionChunk], error) {
		s := g.client.Chat.Completions.NewStreaming(ctx, params)
		if err := s.Err(); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}, classify)
	if err != nil {
		return nil, resilience.WrapTemporary("openai chat stream", err, classify)
	}

	out := make(chan domain.GenerationChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- domain.GenerationChunk{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- domain.GenerationChunk{Err: fmt.Errorf("openai stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// classify maps SDK API errors onto the shared HTTP classification.
func classify(err error) resilience.ErrorClassification {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyHTTP(&resilience.StatusError{
			Service:    "openai",
			Operation:  "chat_stream",
			StatusCode: apiErr.StatusCode,
		})
	}
	return resilience.ClassifyHTTP(err)
}
