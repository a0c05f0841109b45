package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no model gateway is
// configured. Tests script it via Reply.
type MockAdapter struct {
	// Reply overrides the canned response when set.
	Reply func(req Request) string
	// ChunkRunes controls streamed chunk granularity.
	ChunkRunes int
	// Gate, when set, is waited on before each streamed chunk; lets tests
	// hold a stream open to exercise cancellation.
	Gate <-chan struct{}
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return a.reply(req), nil
}

func (a *MockAdapter) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	text := a.reply(req)
	size := a.ChunkRunes
	if size <= 0 {
		size = 8
	}

	var sent strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		if a.Gate != nil {
			select {
			case <-ctx.Done():
				return Response{Text: sent.String()}, ctx.Err()
			case <-a.Gate:
			}
		}
		select {
		case <-ctx.Done():
			return Response{Text: sent.String()}, ctx.Err()
		default:
		}
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		sent.WriteString(chunk)
		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				return Response{Text: sent.String()}, err
			}
		}
	}
	return Response{Text: sent.String()}, nil
}

func (a *MockAdapter) reply(req Request) string {
	if a.Reply != nil {
		return a.Reply(req)
	}
	base := strings.TrimSpace(req.Prompt)
	if base == "" {
		return "我在听。"
	}
	return fmt.Sprintf("收到：%s", firstRunes(base, 40))
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
