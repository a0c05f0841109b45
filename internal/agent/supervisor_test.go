package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/mianshi-ai/coachd/internal/session"
)

type scriptedClassifier struct {
	decision Decision
	err      error
}

func (c scriptedClassifier) Classify(context.Context, ClassifyInput) (Decision, error) {
	return c.decision, c.err
}

func TestSupervisorRoutePracticeWithQuestion(t *testing.T) {
	sup := NewSupervisor(scriptedClassifier{decision: Decision{
		Intent: IntentVoicePractice, Target: TargetInterviewer, Question: "请做一个简短的自我介绍",
	}})

	d, err := sup.Route(context.Background(), &session.Session{}, RouteInput{Text: "我想练习自我介绍"})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Target != TargetInterviewer || d.Question == "" {
		t.Fatalf("got %+v", d)
	}
}

func TestSupervisorSeedFallback(t *testing.T) {
	sup := NewSupervisor(scriptedClassifier{decision: Decision{
		Intent: IntentVoicePractice, Target: TargetInterviewer,
	}})

	d, err := sup.Route(context.Background(), &session.Session{}, RouteInput{
		Text:     "随便考考我",
		NextSeed: func() string { return "请介绍一个你主导过的项目" },
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Question != "请介绍一个你主导过的项目" {
		t.Fatalf("question = %q, want the seed question", d.Question)
	}
}

func TestSupervisorNoQuestionAnywhere(t *testing.T) {
	sup := NewSupervisor(scriptedClassifier{decision: Decision{
		Intent: IntentVoicePractice, Target: TargetInterviewer,
	}})

	d, err := sup.Route(context.Background(), &session.Session{}, RouteInput{Text: "开始练习"})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Target != TargetDirect || d.Reply == "" {
		t.Fatalf("with no question available the turn must end with guidance, got %+v", d)
	}
}

func TestSupervisorCurrentQuestionReused(t *testing.T) {
	sup := NewSupervisor(scriptedClassifier{decision: Decision{
		Intent: IntentVoicePractice, Target: TargetInterviewer,
	}})

	sess := &session.Session{CurrentQuestion: "你为什么从上一段工作中离职"}
	d, err := sup.Route(context.Background(), sess, RouteInput{Text: "再练一下"})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Question != sess.CurrentQuestion {
		t.Fatalf("question = %q, want the in-flight question", d.Question)
	}
}

func TestSupervisorMessageContextOverridesQuestion(t *testing.T) {
	sup := NewSupervisor(scriptedClassifier{decision: Decision{
		Intent: IntentAnswerOptimization, Target: TargetChat, Question: "分类器提取的问题",
	}})

	d, err := sup.Route(context.Background(), &session.Session{}, RouteInput{
		Text:    "帮我优化这段回答",
		Context: &session.MessageContext{Question: "请做一个简短的自我介绍", OriginalTranscript: "我叫小明"},
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Question != "请做一个简短的自我介绍" {
		t.Fatalf("question = %q, want the context question", d.Question)
	}
}

func TestSupervisorClassifierErrorIsTerminal(t *testing.T) {
	boom := errors.New("adapter down")
	sup := NewSupervisor(scriptedClassifier{err: boom})

	if _, err := sup.Route(context.Background(), &session.Session{}, RouteInput{Text: "练习"}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped adapter error", err)
	}
}
