package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// TurnKind classifies one turn's content. Immutable once the turn exists.
type TurnKind string

const (
	TurnChat            TurnKind = "chat"
	TurnRecordingPrompt TurnKind = "recording_prompt"
	TurnTranscription   TurnKind = "transcription"
	TurnFeedback        TurnKind = "feedback"
)

// Turn is one user input or assistant output within a session.
type Turn struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Kind       TurnKind       `json:"kind"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
	PrevTurnID string         `json:"prev_turn_id,omitempty"`
	Cancelled  bool           `json:"cancelled"`
	Saved      bool           `json:"saved"`
	Liked      bool           `json:"liked"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MessageContext is carry-over attached to a user turn when revising an
// existing answer. Set by the client, consumed once by the supervisor.
type MessageContext struct {
	Question           string `json:"question,omitempty"`
	OriginalTranscript string `json:"original_transcript,omitempty"`
	AssetID            string `json:"asset_id,omitempty"`
}

// ProjectContext carries the practice project a session is tied to.
type ProjectContext struct {
	ProjectID         string   `json:"project_id"`
	JDText            string   `json:"jd_text"`
	ResumeText        string   `json:"resume_text"`
	PracticeQuestions []string `json:"practice_questions"`
}

// Session is one ongoing practice conversation.
type Session struct {
	ID      string `json:"session_id"`
	Project ProjectContext
	Status  Status `json:"status"`
	State   State  `json:"state"`

	CurrentQuestion string          `json:"current_question,omitempty"`
	PendingContext  *MessageContext `json:"-"`
	Summary         string          `json:"-"`

	// Recording prompt flags tracked independently of State so the prompt
	// turn's UI can show waiting / submitted / cancelled after the main
	// state has moved on.
	RecordingSubmitted bool `json:"recording_submitted"`
	RecordingCancelled bool `json:"recording_cancelled"`

	Turns          []Turn `json:"-"`
	usedQuestions  map[int]bool
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	ProjectID         string   `json:"project_id"`
	JDText            string   `json:"jd_text"`
	ResumeText        string   `json:"resume_text"`
	PracticeQuestions []string `json:"practice_questions"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	ProjectID       string    `json:"project_id"`
	Status          Status    `json:"status"`
	State           State     `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
