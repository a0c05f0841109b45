package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeUserMessage     MessageType = "message"
	TypeUserAudio       MessageType = "audio"
	TypeCancel          MessageType = "cancel"
	TypeCancelRecording MessageType = "cancel_recording"

	// Server -> client.
	TypeAssistantMessage     MessageType = "assistant_message"
	TypeAssistantStreamStart MessageType = "assistant_message_stream_start"
	TypeAssistantChunk       MessageType = "assistant_message_chunk"
	TypeAssistantStreamEnd   MessageType = "assistant_message_stream_end"
	TypeRecordingStart       MessageType = "recording_start"
	TypeTranscription        MessageType = "transcription"
	TypeFeedback             MessageType = "feedback"
	TypeFeedbackStreamStart  MessageType = "feedback_stream_start"
	TypeFeedbackChunk        MessageType = "feedback_chunk"
	TypeFeedbackStreamEnd    MessageType = "feedback_stream_end"
	TypeGenerationCancelled  MessageType = "generation_cancelled"
	TypeError                MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// MessageContext is client-supplied carry-over identifying a prior answer
// being revised. Consumed by the supervisor once a turn is dispatched.
type MessageContext struct {
	Question           string `json:"question,omitempty"`
	OriginalTranscript string `json:"original_transcript,omitempty"`
	AssetID            string `json:"asset_id,omitempty"`
}

type UserMessage struct {
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	Context   *MessageContext `json:"context,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type UserAudio struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type Cancel struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type CancelRecording struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type AssistantMessage struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	AssetID   string      `json:"asset_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type AssistantStreamStart struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type AssistantChunk struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

// PendingSave describes an optimized answer the user may confirm to persist
// as an edited asset version. Explicit two-step save.
type PendingSave struct {
	Question   string `json:"question"`
	Transcript string `json:"transcript"`
	ProjectID  string `json:"project_id,omitempty"`
}

type AssistantStreamEnd struct {
	Type        MessageType  `json:"type"`
	FullContent string       `json:"full_content"`
	AssetID     string       `json:"asset_id,omitempty"`
	PendingSave *PendingSave `json:"pending_save,omitempty"`
	TurnID      string       `json:"message_id,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type RecordingInfo struct {
	Question string `json:"question"`
}

type RecordingStart struct {
	Type      MessageType   `json:"type"`
	Content   string        `json:"content"`
	Recording RecordingInfo `json:"recording"`
	Timestamp string        `json:"timestamp"`
}

type TranscriptionInfo struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type TranscriptSentence struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

type Transcription struct {
	Type          MessageType          `json:"type"`
	Transcription TranscriptionInfo    `json:"transcription"`
	Sentences     []TranscriptSentence `json:"transcript_sentences,omitempty"`
	AudioFileID   string               `json:"audio_file_id,omitempty"`
	Timestamp     string               `json:"timestamp"`
}

// FeedbackPayload is the structured critique extracted from a completed
// feedback generation.
type FeedbackPayload struct {
	Analysis      string `json:"analysis"`
	Strengths     string `json:"strengths"`
	Improvements  string `json:"improvements"`
	Encouragement string `json:"encouragement,omitempty"`
	RawContent    string `json:"raw_content"`
}

type Feedback struct {
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	Feedback  FeedbackPayload `json:"feedback"`
	AssetID   string          `json:"asset_id,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type FeedbackStreamStart struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type FeedbackChunk struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

type FeedbackStreamEnd struct {
	Type        MessageType     `json:"type"`
	FullContent string          `json:"full_content"`
	Feedback    FeedbackPayload `json:"feedback"`
	AssetID     string          `json:"asset_id,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

type GenerationCancelled struct {
	Type           MessageType `json:"type"`
	PartialContent string      `json:"partial_content,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Error     string      `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// ParseClientMessage decodes one inbound websocket frame. Only the four
// client message kinds are accepted; everything else is rejected before it
// reaches the orchestrator.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Content == "" {
			return nil, errors.New("invalid message: empty content")
		}
		return msg, nil
	case TypeUserAudio:
		var msg UserAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioData == "" {
			return nil, errors.New("invalid audio: empty audio_data")
		}
		return msg, nil
	case TypeCancel:
		var msg Cancel
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeCancelRecording:
		var msg CancelRecording
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
