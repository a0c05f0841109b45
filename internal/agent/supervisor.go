package agent

import (
	"context"
	"fmt"

	"github.com/mianshi-ai/coachd/internal/session"
)

// Supervisor classifies each incoming turn and decides who handles it.
// It operates on a session snapshot and never mutates session state;
// consumed message context and seed-question allocation are handed back
// to the caller through the decision and the seed callback.
type Supervisor struct {
	classifier Classifier
}

func NewSupervisor(classifier Classifier) *Supervisor {
	return &Supervisor{classifier: classifier}
}

// RouteInput is one user turn plus the carry-over the gateway attached.
type RouteInput struct {
	Text string
	// Context is the pending message context, already taken from the
	// session by the caller. Consumed here: its question overrides the
	// classifier's extraction and its transcript marks the revision flow.
	Context *session.MessageContext
	// NextSeed returns the next unused seed practice question, or "".
	// Called only when a practice turn yields no usable question.
	NextSeed func() string
}

func (s *Supervisor) Route(ctx context.Context, sess *session.Session, in RouteInput) (Decision, error) {
	d, err := s.classifier.Classify(ctx, ClassifyInput{
		UserInput:       in.Text,
		CurrentQuestion: sess.CurrentQuestion,
		History:         sess.Turns,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("route turn: %w", err)
	}

	if in.Context != nil && in.Context.Question != "" {
		d.Question = in.Context.Question
	}

	if d.Target == TargetInterviewer && d.Question == "" {
		if sess.CurrentQuestion != "" {
			d.Question = sess.CurrentQuestion
		} else if in.NextSeed != nil {
			d.Question = in.NextSeed()
		}
		if d.Question == "" {
			// Nothing to ask. Hand the turn back to the user instead of
			// opening a recording prompt with no question.
			return Decision{
				Intent: d.Intent,
				Target: TargetDirect,
				Reply:  askForQuestionReply,
			}, nil
		}
	}
	return d, nil
}
