package asr

import (
	"context"
	"strings"
)

// MockTranscriber returns a fixed transcript for local/dev use. Tests script
// it via Result/Err and observe calls via OnTranscribe.
type MockTranscriber struct {
	Result *Result
	Err    error
	// OnTranscribe, when set, sees every call's arguments.
	OnTranscribe func(audio []byte, contextText string)
}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (t *MockTranscriber) Transcribe(ctx context.Context, audio []byte, contextText string) (Result, error) {
	if t.OnTranscribe != nil {
		t.OnTranscribe(audio, contextText)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	if t.Err != nil {
		return Result{}, t.Err
	}
	if t.Result != nil {
		return *t.Result, nil
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyTranscript
	}

	text := "我叫小明，过去五年一直做后端开发，主导过一个支付网关的重构项目。"
	parts := strings.SplitAfter(text, "，")
	sentences := make([]Sentence, 0, len(parts))
	var at int64
	for _, p := range parts {
		if p == "" {
			continue
		}
		dur := int64(len([]rune(p))) * 220
		sentences = append(sentences, Sentence{Text: p, StartMS: at, EndMS: at + dur})
		at += dur
	}
	return Result{Text: text, Sentences: sentences}, nil
}
