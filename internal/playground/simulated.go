package playground

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
)

const completionText = "Artificial intelligence (AI) refers to the simulation of human intelligence in machines that are programmed to think and learn like humans. AI encompasses various technologies including machine learning, natural language processing, computer vision, and more. These systems can perform tasks that typically require human intelligence such as visual perception, speech recognition, decision-making, and language translation."

var chatReplies = []string{
	"I understand your question. Based on the information I have, I would say that's correct.",
	"That's an interesting question. Let me provide some more context to help clarify.",
	"I don't have specific information about that in my knowledge base. Would you like me to try a more general answer?",
	"According to the database you've uploaded, the answer is available in section 3.2 of your documentation.",
	"I can help with that! Here's what I found in your uploaded database about this topic.",
}

// Simulated is the text-completion responder backing /v1/generate.
// It returns a fixed passage with randomized token accounting and a
// configurable artificial latency.
type Simulated struct {
	model   string
	latency time.Duration
}

// NewSimulated creates the completion responder from config
func NewSimulated(cfg *config.PlaygroundConfig) *Simulated {
	return &Simulated{
		model:   cfg.Model,
		latency: cfg.SimulatedLatency,
	}
}

// Model returns the model name reported in responses
func (s *Simulated) Model() string {
	return s.model
}

// Respond produces a simulated completion for the prompt
func (s *Simulated) Respond(ctx context.Context, prompt string) (*Result, error) {
	if err := sleepCtx(ctx, s.latency); err != nil {
		return nil, err
	}
	usage, err := randomUsage()
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:         completionText,
		FinishReason: "length",
		Usage:        usage,
	}, nil
}

// Chat is the conversational responder backing /v1/chat. It picks one of a
// small set of canned replies.
type Chat struct {
	model   string
	latency time.Duration
}

// NewChat creates the chat responder from config
func NewChat(cfg *config.PlaygroundConfig) *Chat {
	return &Chat{
		model:   cfg.Model,
		latency: cfg.SimulatedLatency,
	}
}

// Model returns the model name reported in responses
func (c *Chat) Model() string {
	return c.model
}

// Respond picks a canned reply for the prompt
func (c *Chat) Respond(ctx context.Context, prompt string) (*Result, error) {
	if err := sleepCtx(ctx, c.latency); err != nil {
		return nil, err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chatReplies))))
	if err != nil {
		return nil, err
	}
	usage, err := randomUsage()
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:         chatReplies[n.Int64()],
		FinishReason: "stop",
		Usage:        usage,
	}, nil
}

// Replies exposes the canned chat reply set for tests and docs
func Replies() []string {
	out := make([]string, len(chatReplies))
	copy(out, chatReplies)
	return out
}
