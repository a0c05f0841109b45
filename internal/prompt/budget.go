package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/session"
)

// Budget fixes per-slot token ceilings. Slots fill in strict priority order:
// system, job description, résumé, summary, recent history. The current user
// input holds a reserve that is never truncated.
type Budget struct {
	Total             int
	System            int
	JDMax             int
	ResumeMax         int
	SummaryMax        int
	InputReserve      int
	SummaryAfterTurns int
}

func DefaultBudget() Budget {
	return Budget{
		Total:             16000,
		System:            500,
		JDMax:             2000,
		ResumeMax:         2000,
		SummaryMax:        1000,
		InputReserve:      200,
		SummaryAfterTurns: 10,
	}
}

// ErrInputTooLarge means the current user input cannot fit the budget.
// Input is never truncated; the turn fails instead.
var ErrInputTooLarge = errors.New("user input exceeds prompt budget")

// Context is the assembled, bounded prompt context for one turn. Ephemeral;
// built fresh every invocation, never persisted.
type Context struct {
	System     string
	JD         string
	Resume     string
	Summary    string
	History    []session.Turn
	Input      string
	TokenUsage map[string]int
	Truncated  map[string]bool

	// SummaryGenerated is set when this build produced a fresh summary the
	// caller should cache on the session.
	SummaryGenerated bool
}

// Builder assembles prompt contexts. Stateless across calls; summarization
// is delegated to the language model adapter on the fast tier.
type Builder struct {
	budget  Budget
	adapter llm.Adapter
}

func NewBuilder(budget Budget, adapter llm.Adapter) *Builder {
	if budget.Total <= 0 {
		budget = DefaultBudget()
	}
	return &Builder{budget: budget, adapter: adapter}
}

func (b *Builder) Budget() Budget { return b.budget }

// Build assembles the context for one turn from a session snapshot.
func (b *Builder) Build(ctx context.Context, sess *session.Session, system, input string) (*Context, error) {
	usage := map[string]int{}
	truncated := map[string]bool{}

	systemText := TruncateTokens(system, b.budget.System)
	usage["system"] = EstimateTokens(systemText)

	inputTokens := EstimateTokens(input)
	usage["input"] = inputTokens
	reserve := b.budget.InputReserve
	if inputTokens > reserve {
		reserve = inputTokens
	}

	available := b.budget.Total - b.budget.System - reserve
	if available < 0 {
		return nil, fmt.Errorf("%w: %d tokens", ErrInputTooLarge, inputTokens)
	}

	jd := sess.Project.JDText
	if EstimateTokens(jd) > b.budget.JDMax {
		jd = TruncateTokens(jd, b.budget.JDMax)
		truncated["jd"] = true
	}
	usage["jd"] = EstimateTokens(jd)
	available -= usage["jd"]

	resume := sess.Project.ResumeText
	if EstimateTokens(resume) > b.budget.ResumeMax {
		resume = TruncateTokens(resume, b.budget.ResumeMax)
		truncated["resume"] = true
	}
	usage["resume"] = EstimateTokens(resume)
	available -= usage["resume"]

	out := &Context{
		System:     systemText,
		JD:         jd,
		Resume:     resume,
		Input:      input,
		TokenUsage: usage,
		Truncated:  truncated,
	}

	history := sess.Turns
	if len(history) > b.budget.SummaryAfterTurns {
		summary := sess.Summary
		if summary == "" && b.adapter != nil {
			older := history[:len(history)-b.budget.SummaryAfterTurns]
			generated, err := b.summarize(ctx, older)
			if err == nil && generated != "" {
				summary = generated
				out.SummaryGenerated = true
			}
			// Summarization failure degrades to raw-history fitting; the
			// turn itself must not fail over a summary.
		}
		if summary != "" {
			if EstimateTokens(summary) > b.budget.SummaryMax {
				summary = TruncateTokens(summary, b.budget.SummaryMax)
				truncated["summary"] = true
			}
			out.Summary = summary
			usage["summary"] = EstimateTokens(summary)
			available -= usage["summary"]
			history = history[len(history)-b.budget.SummaryAfterTurns:]
		}
	}

	// Recent raw turns fill whatever budget remains, oldest dropped first.
	// The summary and the current input are never dropped.
	fit, fitTokens := fitHistory(history, available)
	out.History = fit
	usage["history"] = fitTokens
	truncated["history"] = len(fit) < len(history)

	return out, nil
}

func fitHistory(turns []session.Turn, max int) ([]session.Turn, int) {
	if len(turns) == 0 || max <= 0 {
		return nil, 0
	}
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := EstimateTokens(turns[i].Content)
		if total+cost > max {
			break
		}
		total += cost
		start = i
	}
	if start == len(turns) {
		return nil, 0
	}
	out := make([]session.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out, total
}

func (b *Builder) summarize(ctx context.Context, turns []session.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	var lines []string
	for i, t := range turns {
		if i >= 20 {
			break
		}
		role := "助手"
		if t.Role == "user" {
			role = "用户"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, TruncateTokens(t.Content, 200)))
	}

	req := llm.Request{
		System: "你是一个对话摘要助手，负责总结面试练习对话。",
		Prompt: "请将以下面试练习对话总结为简洁的摘要，用3-5句话说明用户练习了哪些问题、回答的主要优缺点、以及关键改进建议。直接输出摘要文本。\n\n" +
			strings.Join(lines, "\n"),
		Tier:        llm.TierFast,
		Temperature: 0.3,
		MaxTokens:   500,
	}
	text, err := b.adapter.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// BackgroundSection renders the bounded project context block appended to a
// system prompt.
func (c *Context) BackgroundSection() string {
	if c.JD == "" && c.Resume == "" && c.Summary == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n## 背景信息\n")
	if c.JD != "" {
		sb.WriteString("\n### 目标职位要求\n" + c.JD + "\n")
	}
	if c.Resume != "" {
		sb.WriteString("\n### 用户简历\n" + c.Resume + "\n")
	}
	if c.Summary != "" {
		sb.WriteString("\n### 之前的对话摘要\n" + c.Summary + "\n")
	}
	return sb.String()
}

// HistoryLines renders retained raw turns for inclusion in a prompt.
func (c *Context) HistoryLines() string {
	if len(c.History) == 0 {
		return "无"
	}
	var sb strings.Builder
	for i, t := range c.History {
		if i > 0 {
			sb.WriteString("\n")
		}
		role := "助手"
		if t.Role == "user" {
			role = "用户"
		}
		sb.WriteString(role + ": " + t.Content)
	}
	return sb.String()
}
