package coach

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mianshi-ai/coachd/internal/agent"
	"github.com/mianshi-ai/coachd/internal/asr"
	"github.com/mianshi-ai/coachd/internal/llm"
	"github.com/mianshi-ai/coachd/internal/observability"
	"github.com/mianshi-ai/coachd/internal/prompt"
	"github.com/mianshi-ai/coachd/internal/protocol"
	"github.com/mianshi-ai/coachd/internal/session"
	"github.com/mianshi-ai/coachd/internal/store"
)

const practiceCritique = `<analysis>回答结构完整，行动部分描述清晰。</analysis>` +
	`<strengths>表达流畅，重点突出。</strengths>` +
	`<improvements>结果部分可以补充量化数据。</improvements>` +
	`<encouragement>继续保持，下一次会更好。</encouragement>`

var (
	metricsOnce sync.Once
	metricsInst *observability.Metrics
)

// Prometheus collectors register globally, so the test binary shares one
// Metrics instance.
func testMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		metricsInst = observability.NewMetrics("coachd_orchestrator_test")
	})
	return metricsInst
}

func testRig(t *testing.T, adapter llm.Adapter, transcriber asr.Transcriber) (*Orchestrator, *session.Manager, *session.Session, *store.InMemoryStore) {
	t.Helper()
	mgr := session.NewManager(time.Hour)
	sess := mgr.Create(session.ProjectContext{
		ProjectID:         "p1",
		JDText:            "负责高并发后端服务的设计与开发",
		ResumeText:        "五年 Go 后端开发经验，主导过支付网关重构",
		PracticeQuestions: []string{"请介绍一个你主导过的项目"},
	})
	st := store.NewInMemoryStore()
	sup := agent.NewSupervisor(agent.NewRuleClassifier())
	iv := agent.NewInterviewer(adapter, transcriber)
	chat := agent.NewChat(adapter, prompt.NewBuilder(prompt.DefaultBudget(), adapter))
	return New(mgr, sup, iv, chat, st, testMetrics()), mgr, sess, st
}

func startConn(t *testing.T, o *Orchestrator, sess *session.Session) (chan any, chan any) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	go func() { _ = o.RunConnection(ctx, sess, inbound, outbound) }()
	t.Cleanup(cancel)
	return inbound, outbound
}

func recv(t *testing.T, outbound chan any) any {
	t.Helper()
	select {
	case m := <-outbound:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

func waitState(t *testing.T, mgr *session.Manager, sessionID string, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := mgr.StateOf(sessionID); err == nil && got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := mgr.StateOf(sessionID)
	t.Fatalf("state = %q, want %q", got, want)
}

func TestPracticeFlowEndToEnd(t *testing.T) {
	adapter := llm.NewMockAdapter()
	adapter.Reply = func(llm.Request) string { return practiceCritique }
	o, mgr, sess, st := testRig(t, adapter, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "我想练习自我介绍"}

	rs, ok := recv(t, out).(protocol.RecordingStart)
	if !ok {
		t.Fatalf("first reply is not recording_start")
	}
	if rs.Recording.Question != "请做一个简短的自我介绍" {
		t.Fatalf("question = %q", rs.Recording.Question)
	}
	waitState(t, mgr, sess.ID, session.StateAwaitingRecording)

	in <- protocol.UserAudio{
		Type:      protocol.TypeUserAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte("pcm-frames")),
	}

	tr, ok := recv(t, out).(protocol.Transcription)
	if !ok {
		t.Fatalf("expected transcription before feedback")
	}
	if !tr.Transcription.IsFinal || tr.Transcription.Text == "" {
		t.Fatalf("transcription = %+v", tr.Transcription)
	}
	if len(tr.Sentences) == 0 || tr.Sentences[0].EndMS <= tr.Sentences[0].StartMS {
		t.Fatalf("missing sentence timestamps: %+v", tr.Sentences)
	}

	if _, ok := recv(t, out).(protocol.FeedbackStreamStart); !ok {
		t.Fatalf("expected feedback_stream_start after transcription")
	}

	var chunks strings.Builder
	var end protocol.FeedbackStreamEnd
	for {
		msg := recv(t, out)
		if c, ok := msg.(protocol.FeedbackChunk); ok {
			chunks.WriteString(c.Content)
			continue
		}
		var done bool
		if end, done = msg.(protocol.FeedbackStreamEnd); done {
			break
		}
		t.Fatalf("unexpected message mid-feedback: %T", msg)
	}
	if chunks.String() != end.FullContent {
		t.Fatalf("chunk concat %q != full content %q", chunks.String(), end.FullContent)
	}
	if end.Feedback.Strengths == "" || end.Feedback.Improvements == "" {
		t.Fatalf("feedback sections empty: %+v", end.Feedback)
	}
	if end.AssetID == "" {
		t.Fatalf("expected an asset for the finished recording")
	}
	waitState(t, mgr, sess.ID, session.StateIdle)

	assets, err := st.ProjectAssets(context.Background(), "p1")
	if err != nil || len(assets) != 1 {
		t.Fatalf("assets = %v, %v", assets, err)
	}
	if assets[0].Kind != store.AssetRecording || assets[0].Transcript != tr.Transcription.Text {
		t.Fatalf("asset = %+v", assets[0])
	}
}

func TestChatStreamChunksConcatToFull(t *testing.T) {
	const reply = "先承认一个真实的小缺点，再讲你已经在如何改进它，最后落在改进带来的效果上。"
	adapter := llm.NewMockAdapter()
	adapter.Reply = func(llm.Request) string { return reply }
	adapter.ChunkRunes = 5
	o, mgr, sess, _ := testRig(t, adapter, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "面试的时候怎么介绍自己的缺点？"}

	if _, ok := recv(t, out).(protocol.AssistantStreamStart); !ok {
		t.Fatalf("expected stream start")
	}
	var chunks strings.Builder
	var end protocol.AssistantStreamEnd
	for {
		msg := recv(t, out)
		if c, ok := msg.(protocol.AssistantChunk); ok {
			chunks.WriteString(c.Content)
			continue
		}
		var done bool
		if end, done = msg.(protocol.AssistantStreamEnd); done {
			break
		}
		t.Fatalf("unexpected message mid-stream: %T", msg)
	}
	if end.FullContent != reply {
		t.Fatalf("full content = %q", end.FullContent)
	}
	if chunks.String() != end.FullContent {
		t.Fatalf("chunk concat %q != full content %q", chunks.String(), end.FullContent)
	}
	if end.TurnID == "" {
		t.Fatalf("stream end is missing the turn id")
	}
	waitState(t, mgr, sess.ID, session.StateIdle)
}

func TestCancelMidStreamEmitsSingleCancelled(t *testing.T) {
	adapter := llm.NewMockAdapter()
	adapter.Reply = func(llm.Request) string {
		return "第一步是梳理项目背景，第二步是说明你承担的职责，列举具体的行动和结果。"
	}
	gate := make(chan struct{})
	adapter.Gate = gate
	o, mgr, sess, _ := testRig(t, adapter, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "面试中项目经历应该怎么讲？"}

	if _, ok := recv(t, out).(protocol.AssistantStreamStart); !ok {
		t.Fatalf("expected stream start")
	}
	gate <- struct{}{}
	first, ok := recv(t, out).(protocol.AssistantChunk)
	if !ok {
		t.Fatalf("expected one chunk before cancelling")
	}

	in <- protocol.Cancel{Type: protocol.TypeCancel}

	cancelled, ok := recv(t, out).(protocol.GenerationCancelled)
	if !ok {
		t.Fatalf("expected generation_cancelled after cancel")
	}
	if cancelled.PartialContent != first.Content {
		t.Fatalf("partial = %q, want %q", cancelled.PartialContent, first.Content)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)

	select {
	case msg := <-out:
		t.Fatalf("unexpected message after cancellation: %T", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelMidFeedbackKeepsPartialAsFeedbackTurn(t *testing.T) {
	adapter := llm.NewMockAdapter()
	adapter.Reply = func(llm.Request) string { return practiceCritique }
	gate := make(chan struct{})
	adapter.Gate = gate
	o, mgr, sess, st := testRig(t, adapter, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "我想练习自我介绍"}
	if _, ok := recv(t, out).(protocol.RecordingStart); !ok {
		t.Fatalf("expected recording_start")
	}

	in <- protocol.UserAudio{
		Type:      protocol.TypeUserAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte("pcm-frames")),
	}
	if _, ok := recv(t, out).(protocol.Transcription); !ok {
		t.Fatalf("expected transcription")
	}
	if _, ok := recv(t, out).(protocol.FeedbackStreamStart); !ok {
		t.Fatalf("expected feedback_stream_start")
	}

	gate <- struct{}{}
	first, ok := recv(t, out).(protocol.FeedbackChunk)
	if !ok {
		t.Fatalf("expected one feedback chunk before cancelling")
	}

	in <- protocol.Cancel{Type: protocol.TypeCancel}

	cancelled, ok := recv(t, out).(protocol.GenerationCancelled)
	if !ok {
		t.Fatalf("expected generation_cancelled after cancel")
	}
	if cancelled.PartialContent != first.Content {
		t.Fatalf("partial = %q, want %q", cancelled.PartialContent, first.Content)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)

	turns, err := st.SessionTurns(context.Background(), sess.ID, 10)
	if err != nil {
		t.Fatalf("session turns: %v", err)
	}
	var partial *store.TurnRecord
	for i := range turns {
		if turns[i].Cancelled {
			partial = &turns[i]
		}
	}
	if partial == nil {
		t.Fatalf("cancelled turn not persisted")
	}
	if partial.Kind != string(session.TurnFeedback) {
		t.Fatalf("cancelled turn kind = %q, want feedback", partial.Kind)
	}
	if partial.Content != first.Content {
		t.Fatalf("cancelled turn content = %q, want %q", partial.Content, first.Content)
	}
}

func TestBusyStreamRejectsNewTurn(t *testing.T) {
	adapter := llm.NewMockAdapter()
	adapter.Reply = func(llm.Request) string { return "逐条分析这段经历里可以量化的部分。" }
	gate := make(chan struct{})
	adapter.Gate = gate
	o, mgr, sess, _ := testRig(t, adapter, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "面试中项目经历应该怎么讲？"}
	if _, ok := recv(t, out).(protocol.AssistantStreamStart); !ok {
		t.Fatalf("expected stream start")
	}

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "帮我优化这个面试回答"}
	ev, ok := recv(t, out).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected busy rejection for the second turn")
	}
	if ev.Code != "busy" {
		t.Fatalf("code = %q, want busy", ev.Code)
	}

	in <- protocol.Cancel{Type: protocol.TypeCancel}
	if _, ok := recv(t, out).(protocol.GenerationCancelled); !ok {
		t.Fatalf("expected generation_cancelled after cleanup cancel")
	}
	waitState(t, mgr, sess.ID, session.StateIdle)
}

func TestUnrelatedInputRefused(t *testing.T) {
	o, mgr, sess, _ := testRig(t, llm.NewMockAdapter(), asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "今天天气怎么样"}

	msg, ok := recv(t, out).(protocol.AssistantMessage)
	if !ok {
		t.Fatalf("expected a plain refusal message")
	}
	if !strings.Contains(msg.Content, "面试") {
		t.Fatalf("refusal does not redirect to interviews: %q", msg.Content)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)
}

func TestAudioWithoutQuestionRejected(t *testing.T) {
	o, _, sess, _ := testRig(t, llm.NewMockAdapter(), asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserAudio{
		Type:      protocol.TypeUserAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte("pcm")),
	}

	ev, ok := recv(t, out).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected an error for audio without a question")
	}
	if ev.Code != "invalid_state" {
		t.Fatalf("code = %q, want invalid_state", ev.Code)
	}
}

func TestCancelRecordingReturnsToIdle(t *testing.T) {
	o, mgr, sess, _ := testRig(t, llm.NewMockAdapter(), asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "我想练习自我介绍"}
	if _, ok := recv(t, out).(protocol.RecordingStart); !ok {
		t.Fatalf("expected recording_start")
	}
	waitState(t, mgr, sess.ID, session.StateAwaitingRecording)

	in <- protocol.CancelRecording{Type: protocol.TypeCancelRecording}
	ack, ok := recv(t, out).(protocol.AssistantMessage)
	if !ok {
		t.Fatalf("expected an acknowledgement message")
	}
	if !strings.Contains(ack.Content, "取消") {
		t.Fatalf("ack = %q", ack.Content)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)
}

type failingStreamAdapter struct{}

func (failingStreamAdapter) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("model gateway unavailable")
}

func (failingStreamAdapter) Stream(context.Context, llm.Request, llm.DeltaHandler) (llm.Response, error) {
	return llm.Response{}, errors.New("model gateway unavailable")
}

func TestCritiqueFailureKeepsTranscript(t *testing.T) {
	o, mgr, sess, st := testRig(t, failingStreamAdapter{}, asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "我想练习自我介绍"}
	if _, ok := recv(t, out).(protocol.RecordingStart); !ok {
		t.Fatalf("expected recording_start")
	}

	in <- protocol.UserAudio{
		Type:      protocol.TypeUserAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte("pcm-frames")),
	}

	tr, ok := recv(t, out).(protocol.Transcription)
	if !ok {
		t.Fatalf("expected the transcript even when the critique will fail")
	}
	if _, ok := recv(t, out).(protocol.FeedbackStreamStart); !ok {
		t.Fatalf("expected feedback_stream_start")
	}
	ev, ok := recv(t, out).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected critique failure error")
	}
	if ev.Code != "critique_failed" {
		t.Fatalf("code = %q", ev.Code)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)

	turns, err := st.SessionTurns(context.Background(), sess.ID, 10)
	if err != nil {
		t.Fatalf("session turns: %v", err)
	}
	var found bool
	for _, rec := range turns {
		if rec.Kind == string(session.TurnTranscription) && rec.Content == tr.Transcription.Text {
			found = true
		}
	}
	if !found {
		t.Fatalf("transcript turn not persisted")
	}
}

func TestMalformedAudioRejected(t *testing.T) {
	o, mgr, sess, _ := testRig(t, llm.NewMockAdapter(), asr.NewMockTranscriber())
	in, out := startConn(t, o, sess)

	in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Content: "我想练习自我介绍"}
	if _, ok := recv(t, out).(protocol.RecordingStart); !ok {
		t.Fatalf("expected recording_start")
	}

	in <- protocol.UserAudio{Type: protocol.TypeUserAudio, AudioData: "%%%not-base64%%%"}
	ev, ok := recv(t, out).(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected an error for malformed audio")
	}
	if ev.Code != "malformed_input" {
		t.Fatalf("code = %q", ev.Code)
	}
	waitState(t, mgr, sess.ID, session.StateIdle)
}
