package store

import (
	"context"
	"errors"
	"time"
)

// TurnRecord stores a single user or assistant turn of a session.
type TurnRecord struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Kind       string         `json:"kind"`
	Content    string         `json:"content"`
	Payload    map[string]any `json:"payload,omitempty"`
	PrevTurnID string         `json:"prev_turn_id,omitempty"`
	Cancelled  bool           `json:"cancelled"`
	Saved      bool           `json:"saved"`
	Liked      bool           `json:"liked"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AssetKind distinguishes how an answer artifact was produced.
type AssetKind string

const (
	AssetRecording AssetKind = "recording"
	AssetEdited    AssetKind = "edited"
)

var ErrNotFound = errors.New("store: not found")

// Store persists session turns and answer assets.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// SessionTurns returns the most recent turns of a session in
	// chronological order.
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	// MarkTurn flips the only post-creation mutable turn fields.
	MarkTurn(ctx context.Context, turnID string, saved, liked *bool) error
	// SaveAsset assigns the next version for the asset's project and
	// question and returns the stored record.
	SaveAsset(ctx context.Context, asset Asset) (Asset, error)
	ProjectAssets(ctx context.Context, projectID string) ([]Asset, error)
	Close() error
}

// Asset is a persisted, versioned interview-answer artifact. Versions
// count up per (project, question).
type Asset struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Question   string    `json:"question"`
	Transcript string    `json:"transcript"`
	Analysis   string    `json:"analysis,omitempty"`
	Version    int       `json:"version"`
	Kind       AssetKind `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
}
