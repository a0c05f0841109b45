package session

import (
	"errors"
	"fmt"
)

// State is the single per-session turn state. Transitions happen only inside
// the Manager; no other component writes it.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingRecording  State = "awaiting_recording"
	StateRecordingSubmitted State = "recording_submitted"
	StateTranscribing       State = "transcribing"
	StateAnalyzing          State = "analyzing"
	StateStreamingChat      State = "streaming_chat"
	StateStreamingFeedback  State = "streaming_feedback"
)

// Event drives state transitions.
type Event string

const (
	EventStartPractice     Event = "start_practice"
	EventAudioSubmitted    Event = "audio_submitted"
	EventTranscribeBegin   Event = "transcribe_begin"
	EventTranscriptReady   Event = "transcript_ready"
	EventFeedbackStreaming Event = "feedback_streaming"
	EventFeedbackReady     Event = "feedback_ready"
	EventChatTurn          Event = "chat_turn"
	EventStreamComplete    Event = "stream_complete"
	EventCancel            Event = "cancel"
	EventError             Event = "error"
)

var (
	ErrBusy              = errors.New("session busy: a turn is already in flight")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Busy reports whether a turn is currently being processed. New user turns
// must be rejected while busy; awaiting a recording is user-paced and does
// not count.
func (s State) Busy() bool {
	switch s {
	case StateRecordingSubmitted, StateTranscribing, StateAnalyzing, StateStreamingChat, StateStreamingFeedback:
		return true
	default:
		return false
	}
}

// Streaming reports whether a cancellable generation is in flight.
func (s State) Streaming() bool {
	return s == StateStreamingChat || s == StateStreamingFeedback
}

// nextState applies one event to the transition table. An error always leaves
// the caller's state untouched.
func nextState(cur State, ev Event) (State, error) {
	// An error terminates the turn from any state and returns to idle; a
	// session is never left stuck in a non-idle state after a failure.
	if ev == EventError {
		return StateIdle, nil
	}

	switch cur {
	case StateIdle:
		switch ev {
		case EventStartPractice:
			return StateAwaitingRecording, nil
		case EventChatTurn:
			return StateStreamingChat, nil
		case EventCancel, EventStreamComplete:
			// Cancel with nothing in flight is a no-op.
			return StateIdle, nil
		}
	case StateAwaitingRecording:
		switch ev {
		case EventAudioSubmitted:
			return StateRecordingSubmitted, nil
		case EventCancel:
			return StateIdle, nil
		case EventStartPractice:
			// Re-asking while waiting just swaps the question.
			return StateAwaitingRecording, nil
		}
	case StateRecordingSubmitted:
		if ev == EventTranscribeBegin {
			return StateTranscribing, nil
		}
	case StateTranscribing:
		if ev == EventTranscriptReady {
			return StateAnalyzing, nil
		}
	case StateAnalyzing:
		switch ev {
		case EventFeedbackStreaming:
			return StateStreamingFeedback, nil
		case EventFeedbackReady:
			return StateIdle, nil
		}
	case StateStreamingChat, StateStreamingFeedback:
		switch ev {
		case EventStreamComplete, EventCancel:
			return StateIdle, nil
		}
	}

	if cur.Busy() && (ev == EventChatTurn || ev == EventStartPractice || ev == EventAudioSubmitted) {
		return cur, ErrBusy
	}
	return cur, fmt.Errorf("%w: %s + %s", ErrInvalidTransition, cur, ev)
}
