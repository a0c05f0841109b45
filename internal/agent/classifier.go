package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/session"
)

// Intent is the coarse routing category assigned to a user turn.
type Intent string

const (
	IntentVoicePractice      Intent = "voice_practice"
	IntentAnswerOptimization Intent = "answer_optimization"
	IntentScriptWriting      Intent = "script_writing"
	IntentResumeOptimization Intent = "resume_optimization"
	IntentQuestionResearch   Intent = "question_research"
	IntentInterviewChat      Intent = "interview_chat"
	IntentGeneral            Intent = "general"
)

// Target names the handler a classified turn is dispatched to.
type Target string

const (
	TargetInterviewer Target = "interviewer"
	TargetChat        Target = "chat"
	// TargetDirect ends the turn with Decision.Reply, no handler invoked.
	TargetDirect Target = "end"
)

// Decision is the outcome of classifying one user turn.
type Decision struct {
	Intent   Intent
	Target   Target
	Question string
	Reply    string
}

// ClassifyInput is the snapshot a classifier sees. History carries the
// most recent turns only; the classifier truncates further as needed.
type ClassifyInput struct {
	UserInput       string
	CurrentQuestion string
	History         []session.Turn
}

type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Decision, error)
}

// LLMClassifier routes with a model call on the fast tier. Routing sits
// on the latency floor of every turn, so it never uses the primary
// generation tier.
type LLMClassifier struct {
	adapter llm.Adapter
}

func NewLLMClassifier(adapter llm.Adapter) *LLMClassifier {
	return &LLMClassifier{adapter: adapter}
}

type routingJSON struct {
	Intent            string `json:"intent"`
	NextAgent         string `json:"next_agent"`
	ExtractedQuestion string `json:"extracted_question"`
	Response          string `json:"response"`
	Reasoning         string `json:"reasoning"`
}

func (c *LLMClassifier) Classify(ctx context.Context, in ClassifyInput) (Decision, error) {
	question := in.CurrentQuestion
	if question == "" {
		question = "无"
	}
	prompt := fmt.Sprintf(routerUserPrompt, in.UserInput, question, historyDigest(in.History, 6))

	text, err := c.adapter.Complete(ctx, llm.Request{
		System:      routerSystemPrompt,
		Prompt:      prompt,
		Tier:        llm.TierFast,
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}

	var parsed routingJSON
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		// Unparseable routing output falls back to the broadest handler
		// rather than failing the turn.
		return Decision{Intent: IntentInterviewChat, Target: TargetChat}, nil
	}
	return decisionFrom(parsed), nil
}

func decisionFrom(p routingJSON) Decision {
	d := Decision{
		Intent:   Intent(p.Intent),
		Question: strings.TrimSpace(p.ExtractedQuestion),
		Reply:    strings.TrimSpace(p.Response),
	}
	switch p.NextAgent {
	case "interviewer":
		d.Target = TargetInterviewer
	case "chat":
		d.Target = TargetChat
	default:
		d.Target = TargetDirect
		if d.Reply == "" {
			d.Reply = refusalReply
		}
	}
	if d.Intent == "" {
		d.Intent = IntentInterviewChat
	}
	return d
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func historyDigest(turns []session.Turn, max int) string {
	if len(turns) == 0 {
		return "无"
	}
	if len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	var lines []string
	for _, t := range turns {
		role := "助手"
		if t.Role == "user" {
			role = "用户"
		}
		content := t.Content
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200])
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}
