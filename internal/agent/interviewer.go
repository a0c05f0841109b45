package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mianshi-ai/coachd/internal/asr"
	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/prompt"
	"github.com/mianshi-ai/coachd/internal/protocol"
	"github.com/mianshi-ai/coachd/internal/session"
)

// Interviewer owns the record, transcribe, score flow of a voice
// practice turn. The orchestrator drives the steps; each method here is
// one step and leaves state handling to the caller.
type Interviewer struct {
	llm llm.Adapter
	asr asr.Transcriber
}

func NewInterviewer(adapter llm.Adapter, transcriber asr.Transcriber) *Interviewer {
	return &Interviewer{llm: adapter, asr: transcriber}
}

// PromptRecording is the assistant text announcing the question before
// the client starts recording.
func (iv *Interviewer) PromptRecording(question string) string {
	return fmt.Sprintf("好的，让我们练习这道题：\n\n**%s**\n\n请点击录音按钮开始回答。", question)
}

// Transcribe converts submitted audio into text with sentence
// timestamps. Project context is passed to the recognizer as a bias
// hint so names and jargon from the résumé survive transcription.
func (iv *Interviewer) Transcribe(ctx context.Context, sess *session.Session, question string, audio []byte) (asr.Result, error) {
	hint := recognitionHint(sess.Project.ResumeText, sess.Project.JDText, question)
	res, err := iv.asr.Transcribe(ctx, audio, hint)
	if err != nil {
		return asr.Result{}, fmt.Errorf("transcribe answer: %w", err)
	}
	return res, nil
}

// Critique streams a STAR evaluation of a transcribed answer. Raw
// chunks flow through onDelta as they arrive; the returned payload is
// parsed from whatever content was produced, so a cancelled or failed
// stream still yields the sections that had closed.
func (iv *Interviewer) Critique(ctx context.Context, sess *session.Session, question, transcript string, onDelta llm.DeltaHandler) (protocol.FeedbackPayload, error) {
	req := llm.Request{
		SessionID:   sess.ID,
		System:      critiqueSystemPrompt,
		Prompt:      critiqueRequest(sess, question, transcript),
		Tier:        llm.TierPrimary,
		Temperature: 0.3,
	}

	parser := NewSectionParser(XMLMarkers, "analysis", "strengths", "improvements", "encouragement")
	_, err := iv.llm.Stream(ctx, req, func(chunk string) error {
		parser.Feed(chunk)
		if onDelta != nil {
			return onDelta(chunk)
		}
		return nil
	})
	parser.Finish()

	fb := protocol.FeedbackPayload{
		Analysis:      parser.Text("analysis"),
		Strengths:     parser.Text("strengths"),
		Improvements:  parser.Text("improvements"),
		Encouragement: parser.Text("encouragement"),
		// The parser saw exactly the chunks forwarded to the client, which
		// makes it the authoritative record of partial output.
		RawContent: parser.Raw(),
	}
	if err != nil {
		return fb, fmt.Errorf("critique answer: %w", err)
	}
	return fb, nil
}

func critiqueRequest(sess *session.Session, question, transcript string) string {
	return fmt.Sprintf(critiquePrompt,
		question,
		transcript,
		orNone(prompt.TruncateTokens(sess.Project.ResumeText, 2000)),
		orNone(prompt.TruncateTokens(sess.Project.JDText, 2000)),
	)
}

func recognitionHint(resume, jd, question string) string {
	var parts []string
	if resume != "" {
		parts = append(parts, "面试候选人背景：\n"+prompt.TruncateTokens(resume, 2000))
	}
	if jd != "" {
		parts = append(parts, "目标职位要求：\n"+prompt.TruncateTokens(jd, 2000))
	}
	if question != "" {
		parts = append(parts, "面试问题：\n"+question)
	}
	return strings.Join(parts, "\n\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "无"
	}
	return s
}
