package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mianshi-ai/coachd/internal/reliability"
)

const (
	httpCallTimeout   = 90 * time.Second
	httpRetryAttempts = 3
	httpRetryBase     = 250 * time.Millisecond
	httpRetryCap      = 2 * time.Second
)

// HTTPTranscriber posts base64 audio to a transcription gateway and expects
// text plus sentence timestamps back.
type HTTPTranscriber struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPTranscriber(cfg Config) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    strings.TrimSpace(cfg.HTTPURL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		client: &http.Client{Timeout: httpCallTimeout},
	}
}

type transcribeRequest struct {
	AudioBase64 string `json:"audio_base64"`
	ContextText string `json:"context_text,omitempty"`
	Language    string `json:"language"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Sentences  []struct {
		Text    string `json:"text"`
		BeginMS int64  `json:"begin_time"`
		EndMS   int64  `json:"end_time"`
	} `json:"sentences"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, contextText string) (Result, error) {
	payload, err := json.Marshal(transcribeRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		ContextText: contextText,
		Language:    "zh",
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	var out Result
	err = reliability.Do(ctx, httpRetryAttempts, httpRetryBase, httpRetryCap, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		}

		res, err := t.client.Do(req)
		if err != nil {
			return reliability.Retryable(fmt.Errorf("send request: %w", err))
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			err := fmt.Errorf("asr http status %d: %s", res.StatusCode, string(body))
			if reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return reliability.Retryable(err)
			}
			return err
		}

		var obj transcribeResponse
		if err := json.NewDecoder(res.Body).Decode(&obj); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		out = Result{Text: strings.TrimSpace(obj.Transcript)}
		for _, s := range obj.Sentences {
			out.Sentences = append(out.Sentences, Sentence{Text: s.Text, StartMS: s.BeginMS, EndMS: s.EndMS})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if out.Text == "" {
		return Result{}, ErrEmptyTranscript
	}
	return out, nil
}
