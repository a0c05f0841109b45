package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/prompt"
	"github.com/mianshi-ai/coachd/internal/protocol"
	"github.com/mianshi-ai/coachd/internal/session"
)

// Chat handles free-form text turns: answer optimization, script
// writing, question research, résumé feedback and general coaching
// conversation.
type Chat struct {
	llm     llm.Adapter
	builder *prompt.Builder
}

func NewChat(adapter llm.Adapter, builder *prompt.Builder) *Chat {
	return &Chat{llm: adapter, builder: builder}
}

// ChatResult is the completed (or cancelled) output of one chat turn.
type ChatResult struct {
	FullContent string
	// Streamed is false when the reply was produced without a model
	// call and should go out as a single assistant message.
	Streamed bool
	// PendingSave is set after optimization-type turns; the client
	// confirms it explicitly to persist an edited asset version.
	PendingSave *protocol.PendingSave
}

// Respond executes a chat turn for an already-routed decision. Raw
// chunks flow through onDelta; tagged sections are parsed from the full
// content afterwards.
func (c *Chat) Respond(ctx context.Context, sess *session.Session, d Decision, input string, msgCtx *session.MessageContext, onDelta llm.DeltaHandler) (ChatResult, error) {
	intent := d.Intent
	switch intent {
	case IntentAnswerOptimization, IntentScriptWriting, IntentResumeOptimization, IntentQuestionResearch, IntentInterviewChat:
	default:
		intent = IntentInterviewChat
	}

	if intent == IntentResumeOptimization && sess.Project.ResumeText == "" {
		return ChatResult{FullContent: missingResumeReply}, nil
	}

	req, preamble, err := c.buildRequest(ctx, sess, intent, d.Question, input, msgCtx)
	if err != nil {
		return ChatResult{}, err
	}

	if preamble != "" && onDelta != nil {
		if err := onDelta(preamble); err != nil {
			return ChatResult{FullContent: preamble, Streamed: true}, err
		}
	}

	resp, err := c.llm.Stream(ctx, req, onDelta)
	full := preamble + resp.Text
	if err != nil {
		return ChatResult{FullContent: full, Streamed: true}, fmt.Errorf("chat turn: %w", err)
	}

	res := ChatResult{FullContent: full, Streamed: true}
	if intent == IntentAnswerOptimization || intent == IntentScriptWriting {
		if text := optimizedText(full); text != "" {
			res.PendingSave = &protocol.PendingSave{
				Question:   d.Question,
				Transcript: text,
				ProjectID:  sess.Project.ProjectID,
			}
		}
	}
	return res, nil
}

// buildRequest assembles the model request for a sub-intent. The
// returned preamble, when non-empty, is emitted to the client before
// any model output.
func (c *Chat) buildRequest(ctx context.Context, sess *session.Session, intent Intent, question, input string, msgCtx *session.MessageContext) (llm.Request, string, error) {
	resume := orNone(prompt.TruncateTokens(sess.Project.ResumeText, 2000))
	jd := orNone(prompt.TruncateTokens(sess.Project.JDText, 2000))

	switch intent {
	case IntentAnswerOptimization:
		q, answer := question, input
		if q == "" {
			q, answer = splitQuestionAnswer(input)
		}
		if q == "" {
			q = "（用户未指定具体问题）"
		}
		if msgCtx != nil && msgCtx.OriginalTranscript != "" {
			return llm.Request{
				SessionID:   sess.ID,
				System:      chatSystemPrompt,
				Prompt:      fmt.Sprintf(answerOptimizationWithReferencePrompt, q, msgCtx.OriginalTranscript, answer, resume, jd),
				Tier:        llm.TierPrimary,
				Temperature: 0.7,
			}, "", nil
		}
		if answer == input && question != "" {
			// Question came from routing; the answer may be buried in
			// the history as the transcript of the matching recording.
			if t := transcriptFor(sess.Turns, question); t != "" {
				answer = t
			}
		}
		return llm.Request{
			SessionID:   sess.ID,
			System:      chatSystemPrompt,
			Prompt:      fmt.Sprintf(answerOptimizationPrompt, q, answer, resume, jd),
			Tier:        llm.TierPrimary,
			Temperature: 0.7,
		}, "", nil

	case IntentScriptWriting:
		q := question
		if q == "" {
			q = input
		}
		preamble := ""
		scriptResume := resume
		if sess.Project.ResumeText == "" {
			preamble = noScriptResumeNote
			scriptResume = "（未提供简历，将生成通用回答框架）"
		}
		return llm.Request{
			SessionID:   sess.ID,
			System:      chatSystemPrompt,
			Prompt:      fmt.Sprintf(scriptWritingPrompt, q, scriptResume, jd),
			Tier:        llm.TierPrimary,
			Temperature: 0.7,
		}, preamble, nil

	case IntentQuestionResearch:
		q := question
		if q == "" {
			q = researchQuestion(input)
		}
		return llm.Request{
			SessionID:   sess.ID,
			System:      chatSystemPrompt,
			Prompt:      fmt.Sprintf(questionResearchPrompt, q, resume, jd),
			Tier:        llm.TierPrimary,
			Temperature: 0.7,
		}, "", nil

	case IntentResumeOptimization:
		return llm.Request{
			SessionID:   sess.ID,
			System:      chatSystemPrompt,
			Prompt:      fmt.Sprintf(resumeOptimizationPrompt, sess.Project.ResumeText, jd, input),
			Tier:        llm.TierPrimary,
			Temperature: 0.7,
		}, "", nil

	default:
		// General coaching conversation runs through the budgeted
		// context so long sessions keep their history.
		pc, err := c.builder.Build(ctx, sess, interviewChatPrompt, input)
		if err != nil {
			return llm.Request{}, "", err
		}
		p := "## 对话历史\n" + pc.HistoryLines() + "\n\n用户: " + input
		return llm.Request{
			SessionID:   sess.ID,
			System:      pc.System + pc.BackgroundSection(),
			Prompt:      p,
			Tier:        llm.TierPrimary,
			Temperature: 0.7,
		}, "", nil
	}
}

// optimizedText pulls the saveable answer body out of a completed
// optimization or script response.
func optimizedText(content string) string {
	sections := ExtractSections(content, "optimized", "script")
	if sections["optimized"] != "" {
		return sections["optimized"]
	}
	return sections["script"]
}

// splitQuestionAnswer handles inputs shaped like
// "帮我优化这个回答：问题是xxx，我的回答是xxx".
func splitQuestionAnswer(input string) (string, string) {
	if !strings.Contains(input, "问题") || !strings.Contains(input, "回答") {
		return "", input
	}
	parts := strings.SplitN(input, "回答", 2)
	if len(parts) < 2 {
		return "", input
	}
	answer := strings.Trim(parts[1], " 是：:，,")
	question := parts[0]
	if at := strings.Index(question, "问题"); at >= 0 {
		question = question[at+len("问题"):]
	}
	question = strings.Trim(question, " 是：:，,。的我")
	return question, answer
}

func researchQuestion(input string) string {
	for _, prefix := range []string{"怎么回答", "如何回答", "分析一下", "这个问题"} {
		if strings.Contains(input, prefix) {
			rest := input[strings.Index(input, prefix)+len(prefix):]
			if q := strings.Trim(rest, " ：:？?，,。"); q != "" {
				return q
			}
		}
	}
	return input
}

// transcriptFor finds the most recent transcription turn following a
// recording prompt for the given question.
func transcriptFor(turns []session.Turn, question string) string {
	matched := false
	transcript := ""
	for _, t := range turns {
		switch t.Kind {
		case session.TurnRecordingPrompt:
			q, _ := t.Meta["question"].(string)
			matched = q == question
		case session.TurnTranscription:
			if matched {
				transcript = t.Content
			}
		}
	}
	return transcript
}
