package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/comerito/cezar/internal/resilience"
	"github.com/comerito/cezar/pkg/anthropic"
)

// MockClient implements anthropic.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestAnthropicEngine_Complete(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 4096 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Messages[0].Content == "which are duplicates?"
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"results":[]}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 10, OutputTokens: 2},
	}, nil)

	eng := NewAnthropicEngine(client, AnthropicConfig{Model: "claude-haiku-4-5-20251001", Retry: fastRetry()})
	text, err := eng.Complete(context.Background(), Prompt{
		Kind:        "duplicates",
		System:      "catalogue",
		CacheSystem: true,
		User:        "which are duplicates?",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, text)
	client.AssertExpectations(t)
}

func TestAnthropicEngine_PermanentErrorNotRetried(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("bad request")).Once()

	eng := NewAnthropicEngine(client, AnthropicConfig{Model: "m", Retry: fastRetry()})
	_, err := eng.Complete(context.Background(), Prompt{Kind: "labels", User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labels")
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestAnthropicEngine_RetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": `{"results":[{"number":1}]}`}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 5, "output_tokens": 5},
		})
	}))
	defer ts.Close()

	client := anthropic.NewClient("test-key", option.WithBaseURL(ts.URL))
	eng := NewAnthropicEngine(client, AnthropicConfig{Model: "claude-haiku-4-5-20251001", Retry: fastRetry()})

	text, err := eng.Complete(context.Background(), Prompt{Kind: "priority", User: "rank"})
	require.NoError(t, err)
	assert.Contains(t, text, `"number":1`)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicEngine_BreakerOpens(t *testing.T) {
	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("unauthorized"))

	eng := NewAnthropicEngine(client, AnthropicConfig{
		Model:   "m",
		Retry:   resilience.Policy{MaxAttempts: 1},
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})

	for range 2 {
		_, err := eng.Complete(context.Background(), Prompt{Kind: "security"})
		require.Error(t, err)
	}
	_, err := eng.Complete(context.Background(), Prompt{Kind: "security"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}
