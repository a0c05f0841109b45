package coach

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"time"

	"github.com/mianshi-ai/coachd/internal/agent"
	"github.com/mianshi-ai/coachd/internal/asr"
	"github.com/mianshi-ai/coachd/internal/observability"
	"github.com/mianshi-ai/coachd/internal/protocol"
	"github.com/mianshi-ai/coachd/internal/session"
	"github.com/mianshi-ai/coachd/internal/store"
)

// Orchestrator drives one websocket connection's turns: routing each
// user input, running the dispatched sub-agent, and keeping the session
// turn state machine honest. At most one generation is in flight per
// session; concurrent turns are rejected, not queued.
type Orchestrator struct {
	sessions    *session.Manager
	supervisor  *agent.Supervisor
	interviewer *agent.Interviewer
	chat        *agent.Chat
	store       store.Store
	metrics     *observability.Metrics
}

func New(sessions *session.Manager, supervisor *agent.Supervisor, interviewer *agent.Interviewer, chat *agent.Chat, st store.Store, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		supervisor:  supervisor,
		interviewer: interviewer,
		chat:        chat,
		store:       st,
		metrics:     metrics,
	}
}

// RunConnection consumes parsed client messages from inbound and emits
// protocol messages on outbound until the context ends or inbound
// closes. The gateway owns both channels and the websocket itself.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	o.metrics.ActiveSessions.Inc()
	defer o.metrics.ActiveSessions.Dec()

	var turn turnGuard

	for {
		select {
		case <-ctx.Done():
			turn.cancelActive()
			turn.wait()
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				turn.cancelActive()
				turn.wait()
				return nil
			}
			switch m := msg.(type) {
			case protocol.UserMessage:
				o.handleText(ctx, s, m, &turn, outbound)
			case protocol.UserAudio:
				o.handleAudio(ctx, s, m, &turn, outbound)
			case protocol.Cancel:
				if turn.cancelActive() {
					o.metrics.SessionEvents.WithLabelValues("cancel_requested").Inc()
				}
			case protocol.CancelRecording:
				o.handleCancelRecording(ctx, s, outbound)
			}
		}
	}
}

func (o *Orchestrator) handleText(ctx context.Context, s *session.Session, m protocol.UserMessage, turn *turnGuard, outbound chan<- any) {
	_ = o.sessions.Touch(s.ID)

	state, err := o.sessions.StateOf(s.ID)
	if err != nil {
		o.send(ctx, outbound, errorEvent("session_not_found", "会话不存在或已过期。"))
		return
	}
	if state.Busy() {
		o.rejectBusy(ctx, outbound)
		return
	}

	msgCtx := sessionContext(m.Context)
	if msgCtx == nil {
		msgCtx = o.sessions.TakePendingContext(s.ID)
	}

	userTurn, err := o.sessions.AppendTurn(s.ID, session.Turn{
		Role:    "user",
		Kind:    session.TurnChat,
		Content: m.Content,
	})
	if err != nil {
		o.send(ctx, outbound, errorEvent("session_not_found", "会话不存在或已过期。"))
		return
	}
	o.persistTurn(ctx, userTurn)

	snap, err := o.sessions.Get(s.ID)
	if err != nil {
		o.send(ctx, outbound, errorEvent("session_not_found", "会话不存在或已过期。"))
		return
	}

	classifyStart := time.Now()
	d, err := o.supervisor.Route(ctx, snap, agent.RouteInput{
		Text:    m.Content,
		Context: msgCtx,
		NextSeed: func() string {
			q, _ := o.sessions.NextSeedQuestion(s.ID)
			return q
		},
	})
	o.metrics.ObserveTurnStage("classify", time.Since(classifyStart))
	if err != nil {
		o.metrics.AdapterErrors.WithLabelValues("llm", "classify").Inc()
		_, _ = o.sessions.Advance(s.ID, session.EventError)
		o.send(ctx, outbound, errorEvent("classification_failed", "没能理解这条消息，请换个说法再试一次。"))
		return
	}

	switch d.Target {
	case agent.TargetDirect:
		o.reply(ctx, s.ID, d.Reply, outbound)
	case agent.TargetInterviewer:
		o.startPractice(ctx, s.ID, d, outbound)
	case agent.TargetChat:
		o.startChatTurn(ctx, s.ID, snap, d, m.Content, msgCtx, turn, outbound)
	}
}

// reply emits a single non-streamed assistant message.
func (o *Orchestrator) reply(ctx context.Context, sessionID, content string, outbound chan<- any) {
	at, err := o.sessions.AppendTurn(sessionID, session.Turn{
		Role:    "assistant",
		Kind:    session.TurnChat,
		Content: content,
	})
	if err == nil {
		o.persistTurn(ctx, at)
	}
	o.send(ctx, outbound, protocol.AssistantMessage{
		Type:      protocol.TypeAssistantMessage,
		Content:   content,
		Timestamp: stamp(),
	})
}

func (o *Orchestrator) startPractice(ctx context.Context, sessionID string, d agent.Decision, outbound chan<- any) {
	if _, err := o.sessions.Advance(sessionID, session.EventStartPractice); err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.rejectBusy(ctx, outbound)
			return
		}
		o.send(ctx, outbound, errorEvent("invalid_state", "现在无法开始练习，请稍后再试。"))
		return
	}
	o.metrics.SessionEvents.WithLabelValues(string(session.EventStartPractice)).Inc()
	_ = o.sessions.SetQuestion(sessionID, d.Question)

	content := o.interviewer.PromptRecording(d.Question)
	pt, err := o.sessions.AppendTurn(sessionID, session.Turn{
		Role:    "assistant",
		Kind:    session.TurnRecordingPrompt,
		Content: content,
		Meta:    map[string]any{"question": d.Question},
	})
	if err == nil {
		o.persistTurn(ctx, pt)
	}

	o.send(ctx, outbound, protocol.RecordingStart{
		Type:      protocol.TypeRecordingStart,
		Content:   content,
		Recording: protocol.RecordingInfo{Question: d.Question},
		Timestamp: stamp(),
	})
}

func (o *Orchestrator) startChatTurn(ctx context.Context, sessionID string, snap *session.Session, d agent.Decision, input string, msgCtx *session.MessageContext, turn *turnGuard, outbound chan<- any) {
	// The fixed no-résumé guidance goes out as a plain message; a stream
	// is only opened when the model will actually be called.
	if d.Intent == agent.IntentResumeOptimization && snap.Project.ResumeText == "" {
		res, _ := o.chat.Respond(ctx, snap, d, input, msgCtx, nil)
		o.reply(ctx, sessionID, res.FullContent, outbound)
		return
	}

	// A chat turn while a recording prompt is open abandons the prompt.
	if state, _ := o.sessions.StateOf(sessionID); state == session.StateAwaitingRecording {
		_ = o.sessions.MarkRecordingCancelled(sessionID)
		_, _ = o.sessions.Advance(sessionID, session.EventCancel)
	}

	if _, err := o.sessions.Advance(sessionID, session.EventChatTurn); err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.rejectBusy(ctx, outbound)
			return
		}
		o.send(ctx, outbound, errorEvent("invalid_state", "现在无法处理这条消息，请稍后再试。"))
		return
	}
	o.metrics.SessionEvents.WithLabelValues(string(session.EventChatTurn)).Inc()

	tctx, finish, ok := turn.begin(ctx)
	if !ok {
		_, _ = o.sessions.Advance(sessionID, session.EventError)
		o.rejectBusy(ctx, outbound)
		return
	}

	go func() {
		defer finish()
		start := time.Now()

		o.send(ctx, outbound, protocol.AssistantStreamStart{
			Type:      protocol.TypeAssistantStreamStart,
			Timestamp: stamp(),
		})

		firstChunk := true
		res, err := o.chat.Respond(tctx, snap, d, input, msgCtx, func(chunk string) error {
			if firstChunk {
				firstChunk = false
				o.metrics.ObserveTurnStage("first_chunk", time.Since(start))
			}
			o.send(ctx, outbound, protocol.AssistantChunk{
				Type:      protocol.TypeAssistantChunk,
				Content:   chunk,
				Timestamp: stamp(),
			})
			return nil
		})

		switch {
		case tctx.Err() != nil || errors.Is(err, context.Canceled):
			o.finishCancelled(ctx, sessionID, session.TurnChat, res.FullContent, outbound)
		case err != nil:
			o.metrics.AdapterErrors.WithLabelValues("llm", "generate").Inc()
			_, _ = o.sessions.Advance(sessionID, session.EventError)
			o.send(ctx, outbound, errorEvent("generation_failed", "回复生成失败，请重试。"))
		default:
			at, aerr := o.sessions.AppendTurn(sessionID, session.Turn{
				Role:    "assistant",
				Kind:    session.TurnChat,
				Content: res.FullContent,
			})
			if aerr == nil {
				o.persistTurn(ctx, at)
			}
			o.send(ctx, outbound, protocol.AssistantStreamEnd{
				Type:        protocol.TypeAssistantStreamEnd,
				FullContent: res.FullContent,
				PendingSave: res.PendingSave,
				TurnID:      at.ID,
				Timestamp:   stamp(),
			})
			_, _ = o.sessions.Advance(sessionID, session.EventStreamComplete)
			o.metrics.ObserveTurnStage("stream_total", time.Since(start))
			o.metrics.ObserveTurnStage("turn_total", time.Since(start))
		}
	}()
}

func (o *Orchestrator) handleAudio(ctx context.Context, s *session.Session, m protocol.UserAudio, turn *turnGuard, outbound chan<- any) {
	_ = o.sessions.Touch(s.ID)

	if _, err := o.sessions.Advance(s.ID, session.EventAudioSubmitted); err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.rejectBusy(ctx, outbound)
			return
		}
		o.send(ctx, outbound, errorEvent("invalid_state", "请先选择要练习的问题。"))
		return
	}
	o.metrics.SessionEvents.WithLabelValues(string(session.EventAudioSubmitted)).Inc()
	_ = o.sessions.MarkRecordingSubmitted(s.ID)

	audio, err := base64.StdEncoding.DecodeString(m.AudioData)
	if err != nil || len(audio) == 0 {
		_, _ = o.sessions.Advance(s.ID, session.EventError)
		o.send(ctx, outbound, errorEvent("malformed_input", "音频数据无法解析，请重新录音。"))
		return
	}

	snap, err := o.sessions.Get(s.ID)
	if err != nil {
		o.send(ctx, outbound, errorEvent("session_not_found", "会话不存在或已过期。"))
		return
	}
	question := snap.CurrentQuestion

	tctx, finish, ok := turn.begin(ctx)
	if !ok {
		_, _ = o.sessions.Advance(s.ID, session.EventError)
		o.rejectBusy(ctx, outbound)
		return
	}

	go func() {
		defer finish()
		turnStart := time.Now()

		_, _ = o.sessions.Advance(s.ID, session.EventTranscribeBegin)

		res, terr := o.interviewer.Transcribe(tctx, snap, question, audio)
		o.metrics.ObserveTurnStage("transcribe", time.Since(turnStart))
		if terr != nil {
			o.metrics.AdapterErrors.WithLabelValues("asr", "transcribe").Inc()
			_, _ = o.sessions.Advance(s.ID, session.EventError)
			if errors.Is(terr, asr.ErrEmptyTranscript) {
				o.send(ctx, outbound, errorEvent("transcription_failed", "未能识别到语音内容，请重新录音。"))
			} else {
				o.send(ctx, outbound, errorEvent("transcription_failed", "语音转录失败，请重新录音。"))
			}
			return
		}

		sentences := make([]protocol.TranscriptSentence, 0, len(res.Sentences))
		sentMeta := make([]map[string]any, 0, len(res.Sentences))
		for _, sn := range res.Sentences {
			sentences = append(sentences, protocol.TranscriptSentence{Text: sn.Text, StartMS: sn.StartMS, EndMS: sn.EndMS})
			sentMeta = append(sentMeta, map[string]any{"text": sn.Text, "start_ms": sn.StartMS, "end_ms": sn.EndMS})
		}

		trTurn, aerr := o.sessions.AppendTurn(s.ID, session.Turn{
			Role:    "user",
			Kind:    session.TurnTranscription,
			Content: res.Text,
			Meta:    map[string]any{"question": question, "sentences": sentMeta},
		})
		if aerr == nil {
			o.persistTurn(ctx, trTurn)
		}

		// The transcript goes out before the critique starts; a critique
		// failure never takes a delivered transcript with it.
		o.send(ctx, outbound, protocol.Transcription{
			Type:          protocol.TypeTranscription,
			Transcription: protocol.TranscriptionInfo{Text: res.Text, IsFinal: true},
			Sentences:     sentences,
			Timestamp:     stamp(),
		})

		_, _ = o.sessions.Advance(s.ID, session.EventTranscriptReady)
		_, _ = o.sessions.Advance(s.ID, session.EventFeedbackStreaming)

		o.send(ctx, outbound, protocol.FeedbackStreamStart{
			Type:      protocol.TypeFeedbackStreamStart,
			Timestamp: stamp(),
		})

		critiqueStart := time.Now()
		firstChunk := true
		fb, cerr := o.interviewer.Critique(tctx, snap, question, res.Text, func(chunk string) error {
			if firstChunk {
				firstChunk = false
				o.metrics.ObserveTurnStage("first_chunk", time.Since(critiqueStart))
			}
			o.send(ctx, outbound, protocol.FeedbackChunk{
				Type:      protocol.TypeFeedbackChunk,
				Content:   chunk,
				Timestamp: stamp(),
			})
			return nil
		})

		switch {
		case tctx.Err() != nil || errors.Is(cerr, context.Canceled):
			o.finishCancelled(ctx, s.ID, session.TurnFeedback, fb.RawContent, outbound)
		case cerr != nil:
			o.metrics.AdapterErrors.WithLabelValues("llm", "critique").Inc()
			_, _ = o.sessions.Advance(s.ID, session.EventError)
			o.send(ctx, outbound, errorEvent("critique_failed", "点评生成失败，你的回答已经记录，可以稍后让我重新点评。"))
		default:
			assetID := o.saveRecordingAsset(ctx, snap, question, res.Text, fb)
			fbTurn, aerr := o.sessions.AppendTurn(s.ID, session.Turn{
				Role:       "assistant",
				Kind:       session.TurnFeedback,
				Content:    fb.RawContent,
				Meta:       map[string]any{"question": question, "asset_id": assetID},
				PrevTurnID: trTurn.ID,
			})
			if aerr == nil {
				o.persistTurn(ctx, fbTurn)
			}
			o.send(ctx, outbound, protocol.FeedbackStreamEnd{
				Type:        protocol.TypeFeedbackStreamEnd,
				FullContent: fb.RawContent,
				Feedback:    fb,
				AssetID:     assetID,
				Timestamp:   stamp(),
			})
			_ = o.sessions.ClearQuestion(s.ID)
			_, _ = o.sessions.Advance(s.ID, session.EventStreamComplete)
			o.metrics.ObserveTurnStage("turn_total", time.Since(turnStart))
		}
	}()
}

func (o *Orchestrator) handleCancelRecording(ctx context.Context, s *session.Session, outbound chan<- any) {
	_ = o.sessions.Touch(s.ID)
	if err := o.sessions.MarkRecordingCancelled(s.ID); err != nil {
		o.send(ctx, outbound, errorEvent("busy", "录音已提交，正在处理中，无法取消。"))
		return
	}
	_, _ = o.sessions.Advance(s.ID, session.EventCancel)
	_ = o.sessions.ClearQuestion(s.ID)
	o.reply(ctx, s.ID, "好的，已取消本次录音练习。想换一道题，还是聊点别的？", outbound)
}

// finishCancelled emits the single terminal event of a cancelled
// generation and records the partial content under the kind the stream
// started as, so the client renders it in the right channel.
func (o *Orchestrator) finishCancelled(ctx context.Context, sessionID string, kind session.TurnKind, partial string, outbound chan<- any) {
	o.metrics.CancelledGenerations.Inc()
	at, err := o.sessions.AppendTurn(sessionID, session.Turn{
		Role:      "assistant",
		Kind:      kind,
		Content:   partial,
		Cancelled: true,
	})
	if err == nil {
		o.persistTurn(ctx, at)
	}
	o.send(ctx, outbound, protocol.GenerationCancelled{
		Type:           protocol.TypeGenerationCancelled,
		PartialContent: partial,
		Timestamp:      stamp(),
	})
	_, _ = o.sessions.Advance(sessionID, session.EventCancel)
}

func (o *Orchestrator) saveRecordingAsset(ctx context.Context, snap *session.Session, question, transcript string, fb protocol.FeedbackPayload) string {
	if o.store == nil || snap.Project.ProjectID == "" {
		return ""
	}
	saved, err := o.store.SaveAsset(ctx, store.Asset{
		ProjectID:  snap.Project.ProjectID,
		Question:   question,
		Transcript: transcript,
		Analysis:   fb.Analysis,
		Kind:       store.AssetRecording,
	})
	if err != nil {
		log.Printf("save recording asset: %v", err)
		return ""
	}
	return saved.ID
}

func (o *Orchestrator) rejectBusy(ctx context.Context, outbound chan<- any) {
	o.metrics.SessionEvents.WithLabelValues("busy_rejected").Inc()
	o.send(ctx, outbound, errorEvent("busy", "当前还有一条消息正在处理，请稍候，或先取消正在进行的回复。"))
}

func (o *Orchestrator) persistTurn(ctx context.Context, t session.Turn) {
	if o.store == nil {
		return
	}
	rec := store.TurnRecord{
		ID:         t.ID,
		SessionID:  t.SessionID,
		Role:       t.Role,
		Kind:       string(t.Kind),
		Content:    t.Content,
		Payload:    t.Meta,
		PrevTurnID: t.PrevTurnID,
		Cancelled:  t.Cancelled,
		CreatedAt:  t.CreatedAt,
	}
	if err := o.store.SaveTurn(ctx, rec); err != nil {
		log.Printf("persist turn %s: %v", t.ID, err)
	}
}

// send delivers one outbound message, giving up only when the
// connection itself is gone. The gateway writer drains the channel, so
// backpressure here is the websocket's.
func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func errorEvent(code, message string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeError,
		Code:      code,
		Error:     message,
		Timestamp: stamp(),
	}
}

func sessionContext(mc *protocol.MessageContext) *session.MessageContext {
	if mc == nil {
		return nil
	}
	return &session.MessageContext{
		Question:           mc.Question,
		OriginalTranscript: mc.OriginalTranscript,
		AssetID:            mc.AssetID,
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
