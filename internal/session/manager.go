package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Manager owns all mutable session state. Every component that wants a state
// change goes through it; reads get clones.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(project ProjectContext) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Project:        project,
		Status:         StatusActive,
		State:          StateIdle,
		usedQuestions:  make(map[int]bool),
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Advance applies one state machine event and returns the resulting state.
// This is the only place session turn state changes.
func (m *Manager) Advance(sessionID string, ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	next, err := nextState(s.State, ev)
	if err != nil {
		return s.State, err
	}
	s.State = next
	s.LastActivityAt = time.Now().UTC()
	if ev == EventStartPractice {
		// A fresh recording prompt resets the per-recording flags.
		s.RecordingSubmitted = false
		s.RecordingCancelled = false
	}
	return next, nil
}

func (m *Manager) StateOf(sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return s.State, nil
}

func (m *Manager) SetQuestion(sessionID, question string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.CurrentQuestion = question
	return nil
}

func (m *Manager) ClearQuestion(sessionID string) error {
	return m.SetQuestion(sessionID, "")
}

// NextSeedQuestion returns the next unused practice question from the
// project list, marking it used.
func (m *Manager) NextSeedQuestion(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	for i, q := range s.Project.PracticeQuestions {
		if !s.usedQuestions[i] {
			s.usedQuestions[i] = true
			return q, true
		}
	}
	return "", false
}

func (m *Manager) SetPendingContext(sessionID string, mc *MessageContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.PendingContext = mc
	return nil
}

// TakePendingContext consumes and clears the pending message context.
func (m *Manager) TakePendingContext(sessionID string) *MessageContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	mc := s.PendingContext
	s.PendingContext = nil
	return mc
}

func (m *Manager) SetSummary(sessionID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Summary = summary
	return nil
}

// AppendTurn records a turn in the session history, assigning id and
// timestamp when missing.
func (m *Manager) AppendTurn(sessionID string, t Turn) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Turn{}, ErrNotFound
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.SessionID = sessionID
	s.Turns = append(s.Turns, t)
	s.LastActivityAt = time.Now().UTC()
	return t, nil
}

func (m *Manager) History(sessionID string) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(s.Turns))
	copy(out, s.Turns)
	return out
}

// MarkRecordingSubmitted flags the active recording prompt as answered, both
// on the session and on the latest recording_prompt turn's meta.
func (m *Manager) MarkRecordingSubmitted(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RecordingSubmitted = true
	markLatestPrompt(s, "submitted")
	return nil
}

// MarkRecordingCancelled flags the active recording prompt as cancelled.
// A prompt already submitted cannot be cancelled.
func (m *Manager) MarkRecordingCancelled(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.RecordingSubmitted {
		return nil
	}
	s.RecordingCancelled = true
	markLatestPrompt(s, "cancelled")
	return nil
}

// SetTurnSaved and SetTurnLiked mutate the only two post-creation markers a
// turn carries.
func (m *Manager) SetTurnSaved(sessionID, turnID string, saved bool) error {
	return m.mutateTurn(sessionID, turnID, func(t *Turn) { t.Saved = saved })
}

func (m *Manager) SetTurnLiked(sessionID, turnID string, liked bool) error {
	return m.mutateTurn(sessionID, turnID, func(t *Turn) { t.Liked = liked })
}

func (m *Manager) mutateTurn(sessionID, turnID string, fn func(*Turn)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for i := range s.Turns {
		if s.Turns[i].ID == turnID {
			fn(&s.Turns[i])
			return nil
		}
	}
	return errors.New("turn not found")
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.State = StateIdle
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		// A session parked on a recording prompt is user-paced; waiting for
		// audio is explicitly not a timeout condition.
		if s.State == StateAwaitingRecording {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.State = StateIdle
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func markLatestPrompt(s *Session, key string) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Kind != TurnRecordingPrompt {
			continue
		}
		if s.Turns[i].Meta == nil {
			s.Turns[i].Meta = make(map[string]any)
		}
		s.Turns[i].Meta[key] = true
		return
	}
}

func clone(s *Session) *Session {
	c := *s
	c.usedQuestions = nil
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	if s.PendingContext != nil {
		mc := *s.PendingContext
		c.PendingContext = &mc
	}
	return &c
}
