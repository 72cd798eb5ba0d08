package playground

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var responseIDPattern = regexp.MustCompile(`^resp_[0-9a-f]{8}$`)

func testPlaygroundConfig() *config.PlaygroundConfig {
	return &config.PlaygroundConfig{
		Model:            "atherbot-1",
		SimulatedLatency: 0,
	}
}

func TestNewResponseID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := NewResponseID()
		require.NoError(t, err)
		assert.Regexp(t, responseIDPattern, id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "IDs should not all collide")
}

// TestProperty_Usage_SumInvariant checks the token accounting always adds up
// and stays inside the simulated range.
func TestProperty_Usage_SumInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		usage, err := randomUsage()
		if err != nil {
			rt.Fatalf("usage draw failed: %v", err)
		}

		if usage.PromptTokens+usage.CompletionTokens != usage.TotalTokens {
			rt.Fatalf("usage does not sum: %d + %d != %d",
				usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
		}
		if usage.TotalTokens < minTotalTokens || usage.TotalTokens >= minTotalTokens+totalTokenSpread {
			rt.Fatalf("total tokens %d outside [%d, %d)",
				usage.TotalTokens, minTotalTokens, minTotalTokens+totalTokenSpread)
		}
		if usage.PromptTokens <= 0 || usage.CompletionTokens <= 0 {
			rt.Fatalf("token counts must be positive: %+v", usage)
		}
	})
}

func TestSimulated_Respond(t *testing.T) {
	s := NewSimulated(testPlaygroundConfig())

	result, err := s.Respond(context.Background(), "What is AI?")

	require.NoError(t, err)
	assert.Equal(t, completionText, result.Text)
	assert.Equal(t, "length", result.FinishReason)
	assert.Equal(t, result.Usage.TotalTokens, result.Usage.PromptTokens+result.Usage.CompletionTokens)
	assert.Equal(t, "atherbot-1", s.Model())
}

func TestSimulated_Respond_CancelledContext(t *testing.T) {
	cfg := testPlaygroundConfig()
	cfg.SimulatedLatency = time.Minute
	s := NewSimulated(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Respond(ctx, "never mind")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChat_Respond_PicksCannedReply(t *testing.T) {
	c := NewChat(testPlaygroundConfig())

	result, err := c.Respond(context.Background(), "hello there")

	require.NoError(t, err)
	assert.Contains(t, Replies(), result.Text)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestBuildResponse(t *testing.T) {
	result := &Result{
		Text:         "some completion",
		FinishReason: "length",
		Usage:        Usage{PromptTokens: 25, CompletionTokens: 50, TotalTokens: 75},
	}

	resp, err := BuildResponse("atherbot-1", result)

	require.NoError(t, err)
	assert.Regexp(t, responseIDPattern, resp.ID)
	assert.Equal(t, "text_completion", resp.Object)
	assert.Equal(t, "atherbot-1", resp.Model)
	assert.WithinDuration(t, time.Now(), resp.Created, 5*time.Second)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "some completion", resp.Choices[0].Text)
	assert.Equal(t, 0, resp.Choices[0].Index)
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
	assert.Equal(t, result.Usage, resp.Usage)
}
