package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mianshi-ai/coachd/internal/reliability"
)

const (
	httpCallTimeout   = 120 * time.Second
	httpRetryAttempts = 3
	httpRetryBase     = 200 * time.Millisecond
	httpRetryCap      = 2 * time.Second
)

// HTTPAdapter speaks the OpenAI-compatible chat completions protocol, which
// is what qwen-style and most self-hosted gateways expose.
type HTTPAdapter struct {
	url          string
	apiKey       string
	primaryModel string
	fastModel    string
	client       *http.Client
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	primary := strings.TrimSpace(cfg.PrimaryModel)
	if primary == "" {
		primary = "qwen-plus"
	}
	fast := strings.TrimSpace(cfg.FastModel)
	if fast == "" {
		fast = primary
	}
	return &HTTPAdapter{
		url:          strings.TrimRight(strings.TrimSpace(cfg.HTTPURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		primaryModel: primary,
		fastModel:    fast,
		client:       &http.Client{Timeout: httpCallTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *HTTPAdapter) Complete(ctx context.Context, req Request) (string, error) {
	var text string
	err := reliability.Do(ctx, httpRetryAttempts, httpRetryBase, httpRetryCap, func() error {
		res, err := a.post(ctx, req, false)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var obj chatResponse
		if err := json.Unmarshal(body, &obj); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(obj.Choices) == 0 {
			return fmt.Errorf("empty choices")
		}
		text = obj.Choices[0].Message.Content
		return nil
	})
	return text, err
}

func (a *HTTPAdapter) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	var out Response
	emitted := false
	err := reliability.Do(ctx, httpRetryAttempts, httpRetryBase, httpRetryCap, func() error {
		if emitted {
			// Once a delta reached the caller a retry would duplicate
			// content; the failure becomes terminal.
			return fmt.Errorf("stream interrupted after partial output")
		}
		res, err := a.post(ctx, req, true)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		text, firstEmitted, err := consumeSSE(res.Body, onDelta)
		emitted = emitted || firstEmitted
		// Deltas already forwarded to the caller stay in the response even
		// when the stream dies mid-generation; cancellation reporting
		// depends on the partial text surviving here.
		out.Text = text
		return err
	})
	return out, err
}

func (a *HTTPAdapter) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := a.primaryModel
	if req.Tier == TierFast {
		model = a.fastModel
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, reliability.Retryable(fmt.Errorf("send request: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		err := fmt.Errorf("llm http status %d: %s", res.StatusCode, string(body))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, reliability.Retryable(err)
		}
		return nil, err
	}
	return res, nil
}

func consumeSSE(body io.Reader, onDelta DeltaHandler) (string, bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	emitted := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var obj chatResponse
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if len(obj.Choices) == 0 {
			continue
		}
		delta := obj.Choices[0].Delta.Content
		if delta == "" {
			delta = obj.Choices[0].Message.Content
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		emitted = true
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), emitted, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), emitted, fmt.Errorf("stream read: %w", err)
	}
	return out.String(), emitted, nil
}
