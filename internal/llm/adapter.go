package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tier selects which configured model serves a request. Classification runs
// on the fast tier; generation on the primary tier.
type Tier string

const (
	TierPrimary Tier = "primary"
	TierFast    Tier = "fast"
)

// Request is a normalized completion request.
type Request struct {
	SessionID   string  `json:"session_id,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Tier        Tier    `json:"tier,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response is the final response after streaming deltas.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments in generation order.
type DeltaHandler func(delta string) error

// Adapter abstracts the language model boundary. Stream is cancellable via
// ctx; deltas already handed to the DeltaHandler are the caller's to keep.
type Adapter interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode         string
	HTTPURL      string
	APIKey       string
	PrimaryModel string
	FastModel    string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}
