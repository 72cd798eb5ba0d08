package playground

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"
)

// Responder produces a simulated model response for a prompt. Implementations
// must be safe for concurrent use.
type Responder interface {
	Respond(ctx context.Context, prompt string) (*Result, error)
	Model() string
}

// Result is a responder's output before it is shaped into the wire format
type Result struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Usage reports token counts for one response. TotalTokens is always the
// sum of the other two.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one generated alternative in a response
type Choice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// GenerateResponse is the wire format returned by the generation endpoints
type GenerateResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created time.Time `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
}

// GenerateRequest is the request body accepted by the generation endpoints
type GenerateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

const (
	responseIDPrefix = "resp_"
	responseIDBytes  = 4

	minTotalTokens   = 50
	totalTokenSpread = 100
)

// NewResponseID returns a fresh response identifier of the form resp_xxxxxxxx
func NewResponseID() (string, error) {
	buf := make([]byte, responseIDBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate response ID: %w", err)
	}
	return responseIDPrefix + hex.EncodeToString(buf), nil
}

// BuildResponse shapes a responder result into the wire format
func BuildResponse(model string, result *Result) (*GenerateResponse, error) {
	id, err := NewResponseID()
	if err != nil {
		return nil, err
	}
	return &GenerateResponse{
		ID:      id,
		Object:  "text_completion",
		Created: time.Now().UTC(),
		Model:   model,
		Choices: []Choice{
			{Text: result.Text, Index: 0, FinishReason: result.FinishReason},
		},
		Usage: result.Usage,
	}, nil
}

// randomUsage draws a total in [minTotalTokens, minTotalTokens+totalTokenSpread)
// and splits it so that prompt + completion = total holds by construction.
func randomUsage() (Usage, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(totalTokenSpread))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to draw token count: %w", err)
	}
	total := minTotalTokens + int(n.Int64())
	prompt := total / 3
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: total - prompt,
		TotalTokens:      total,
	}, nil
}

// sleepCtx waits for the simulated latency or the context, whichever ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
