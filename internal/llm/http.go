package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/spendguard/spendguard/internal/domain"
)

// HTTPClient talks to a model provider over JSON HTTP. Calls are rate
// limited, time bounded, and run under a circuit breaker; a terminal
// provider failure surfaces as ErrUpstreamUnavailable. The API key is
// held as an opaque token and never logged.
type HTTPClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// HTTPConfig configures the provider transport.
type HTTPConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	Timeout     time.Duration
	CallsPerSec float64
}

// NewHTTPClient builds the provider client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CallsPerSec <= 0 {
		cfg.CallsPerSec = 2
	}
	settings := gobreaker.Settings{
		Name:        "model",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("model breaker state change")
		},
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.CallsPerSec), 1),
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

type wireRequest struct {
	Model    string     `json:"model"`
	System   string     `json:"system,omitempty"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
}

type wireResponse struct {
	Text     string    `json:"text"`
	ToolCall *ToolCall `json:"tool_call"`
	Done     bool      `json:"done"`
	Error    string    `json:"error"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// The hint travels as a trailing system line so any provider sees
	// the preference order without a bespoke wire field.
	system := req.System
	if req.Hint != nil {
		hintJSON, _ := json.Marshal(req.Hint)
		system += "\nDecision table hint: " + string(hintJSON)
	}

	body, err := json.Marshal(wireRequest{
		Model:    c.model,
		System:   system,
		Messages: req.Messages,
		Tools:    req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, rerr := c.http.Do(httpReq)
		if rerr != nil {
			return nil, rerr
		}
		defer resp.Body.Close()

		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if rerr != nil {
			return nil, rerr
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("model provider status %d", resp.StatusCode)
		}
		var wire wireResponse
		if rerr := json.Unmarshal(raw, &wire); rerr != nil {
			return nil, fmt.Errorf("decode model response: %w", rerr)
		}
		if wire.Error != "" {
			return nil, fmt.Errorf("model provider error: %s", wire.Error)
		}
		return &wire, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("model call: %w: %v", domain.ErrUpstreamUnavailable, err)
	}

	wire := result.(*wireResponse)
	return &Response{Text: wire.Text, ToolCall: wire.ToolCall, Done: wire.Done}, nil
}
