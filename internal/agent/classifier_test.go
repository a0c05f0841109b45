package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/mianshi-ai/coachd/internal/llm"
)

func TestRuleClassifierPracticeTopic(t *testing.T) {
	c := NewRuleClassifier()
	d, err := c.Classify(context.Background(), ClassifyInput{UserInput: "我想练习项目经验"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if d.Target != TargetInterviewer {
		t.Fatalf("target = %q, want interviewer", d.Target)
	}
	if d.Question == "" || !strings.Contains(d.Question, "项目") {
		t.Fatalf("question = %q, want a synthesized project question", d.Question)
	}
}

func TestRuleClassifierUnrelatedRefused(t *testing.T) {
	c := NewRuleClassifier()
	d, err := c.Classify(context.Background(), ClassifyInput{UserInput: "今天天气怎么样"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if d.Target != TargetDirect {
		t.Fatalf("target = %q, want direct reply", d.Target)
	}
	if d.Reply != refusalReply {
		t.Fatalf("reply = %q, want the fixed refusal", d.Reply)
	}
}

func TestRuleClassifierGreeting(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{UserInput: "你好"})
	if d.Target != TargetDirect || d.Reply == "" || d.Reply == refusalReply {
		t.Fatalf("greeting should get a short direct reply, got %+v", d)
	}
}

func TestRuleClassifierSelfIntroPractice(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{UserInput: "我想练习自我介绍"})
	if d.Target != TargetInterviewer || d.Question != "请做一个简短的自我介绍" {
		t.Fatalf("got %+v", d)
	}
}

func TestRuleClassifierAnswerOptimizationWithEmbeddedQuestion(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{
		UserInput: "帮我优化这个回答：问题是为什么离职，我的回答是想找新挑战",
	})
	if d.Target != TargetChat || d.Intent != IntentAnswerOptimization {
		t.Fatalf("got %+v", d)
	}
	if d.Question != "为什么离职" {
		t.Fatalf("question = %q, want 为什么离职", d.Question)
	}
}

func TestRuleClassifierScriptWriting(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{UserInput: "帮我写一个自我介绍"})
	if d.Intent != IntentScriptWriting || d.Target != TargetChat {
		t.Fatalf("got %+v", d)
	}
	if d.Question != "请做一个简短的自我介绍" {
		t.Fatalf("question = %q", d.Question)
	}
}

func TestRuleClassifierResume(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{UserInput: "帮我优化一下简历里的项目经验"})
	if d.Intent != IntentResumeOptimization || d.Target != TargetChat {
		t.Fatalf("got %+v", d)
	}
}

func TestRuleClassifierInterviewChatFallback(t *testing.T) {
	c := NewRuleClassifier()
	d, _ := c.Classify(context.Background(), ClassifyInput{UserInput: "面试前应该怎么准备"})
	if d.Intent != IntentInterviewChat || d.Target != TargetChat {
		t.Fatalf("got %+v", d)
	}
}

func TestLLMClassifierParsesRouting(t *testing.T) {
	mock := llm.NewMockAdapter()
	mock.Reply = func(req llm.Request) string {
		if req.Tier != llm.TierFast {
			t.Errorf("classification tier = %q, want fast", req.Tier)
		}
		return "```json\n{\"intent\":\"voice_practice\",\"next_agent\":\"interviewer\",\"extracted_question\":\"请做一个简短的自我介绍\",\"response\":null,\"reasoning\":\"练习请求\"}\n```"
	}

	d, err := NewLLMClassifier(mock).Classify(context.Background(), ClassifyInput{UserInput: "我想练习自我介绍"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if d.Target != TargetInterviewer || d.Intent != IntentVoicePractice {
		t.Fatalf("got %+v", d)
	}
	if d.Question != "请做一个简短的自我介绍" {
		t.Fatalf("question = %q", d.Question)
	}
}

func TestLLMClassifierDirectReply(t *testing.T) {
	mock := llm.NewMockAdapter()
	mock.Reply = func(llm.Request) string {
		return `{"intent":"general","next_agent":"end","extracted_question":"","response":"抱歉，我是面试助手，只能帮助你准备面试相关的问题。","reasoning":"无关话题"}`
	}

	d, err := NewLLMClassifier(mock).Classify(context.Background(), ClassifyInput{UserInput: "今天天气怎么样"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if d.Target != TargetDirect || d.Reply == "" {
		t.Fatalf("got %+v", d)
	}
}

func TestLLMClassifierMalformedJSONFallsBackToChat(t *testing.T) {
	mock := llm.NewMockAdapter()
	mock.Reply = func(llm.Request) string { return "好的，我来帮你分析一下。" }

	d, err := NewLLMClassifier(mock).Classify(context.Background(), ClassifyInput{UserInput: "面试技巧"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if d.Target != TargetChat || d.Intent != IntentInterviewChat {
		t.Fatalf("malformed routing output should fall back to chat, got %+v", d)
	}
}
