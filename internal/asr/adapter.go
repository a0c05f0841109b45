package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentence is one transcript sentence with timing.
type Sentence struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Result carries the full transcript plus sentence-level timestamps.
type Result struct {
	Text      string     `json:"text"`
	Sentences []Sentence `json:"sentences"`
}

// ErrEmptyTranscript is returned when the provider recognized nothing.
var ErrEmptyTranscript = errors.New("no speech recognized")

// Transcriber converts raw audio into text. Context hints (question, résumé)
// bias recognition toward domain vocabulary.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contextText string) (Result, error)
}

// Config controls transcriber construction.
type Config struct {
	Mode    string
	HTTPURL string
	APIKey  string
}

func NewTranscriber(cfg Config) (Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPTranscriber(cfg), nil
		}
		return NewMockTranscriber(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("asr HTTP url is required for http mode")
		}
		return NewHTTPTranscriber(cfg), nil
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported asr mode %q", cfg.Mode)
	}
}
