package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tutu-network/pana/internal/domain"
)

// Params controls generation.
type Params struct {
	BaseURL     string   // e.g. http://127.0.0.1:8080/v1
	APIKey      string   // usually empty for local servers
	MaxTokens   int      // default: 512
	Temperature float32  // default: 0.7
	TopP        float32  // default: 0.9
	Stop        []string // extra stop sequences
}

// DefaultParams returns generation defaults for a local llama.cpp server.
func DefaultParams() Params {
	return Params{
		BaseURL:     "http://127.0.0.1:8080/v1",
		MaxTokens:   512,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// OpenAI implements domain.Generator over the completions endpoint.
type OpenAI struct {
	client *openai.Client
	params Params
}

// NewOpenAI creates a generator for the server at p.BaseURL.
func NewOpenAI(p Params) *OpenAI {
	cfg := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), params: p}
}

// Generate streams completion fragments for prompt. The channel is closed
// when the server finishes, ctx is cancelled, or an error occurs; an
// error is delivered as a final Token with Err set.
func (g *OpenAI) Generate(ctx context.Context, handle domain.ModelHandle, prompt string) (<-chan domain.Token, error) {
	if handle == nil {
		return nil, domain.ErrNoModelLoaded
	}
	if h, ok := handle.(interface{ Closed() bool }); ok && h.Closed() {
		return nil, fmt.Errorf("%s was unloaded: %w", handle.Name(), domain.ErrNoModelLoaded)
	}

	stop := append([]string{domain.HumanLabel + ":"}, g.params.Stop...)
	req := openai.CompletionRequest{
		Model:       handle.Name(),
		Prompt:      prompt,
		MaxTokens:   g.params.MaxTokens,
		Temperature: g.params.Temperature,
		TopP:        g.params.TopP,
		Stop:        stop,
		Stream:      true,
	}

	stream, err := g.client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}

	out := make(chan domain.Token)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, out, domain.Token{Err: fmt.Errorf("stream recv failed: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Text == "" {
				continue
			}
			if !send(ctx, out, domain.Token{Text: resp.Choices[0].Text}) {
				return
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- domain.Token, tok domain.Token) bool {
	select {
	case out <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}
