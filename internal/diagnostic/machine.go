package diagnostic

import (
	"errors"
	"fmt"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// Transition errors. A rejected event leaves the state untouched.
var (
	ErrEventNotAccepted = errors.New("event not accepted in current stage")
	ErrQuestionMismatch = errors.New("answer does not match the current question")
	ErrAnswerKind       = errors.New("answer kind does not fit the question")
	ErrMissingIdentity  = errors.New("an identity is required to start the diagnostic")
	ErrCursorOutOfRange = errors.New("question cursor out of range")
	ErrNoDeterminedArea = errors.New("no determined area")
)

// Event drives the state machine
type Event interface {
	eventName() string
}

// Registered binds an identity and starts Stage One
type Registered struct {
	UserID string
}

// AnswerSubmitted carries the answer to the question under the cursor
type AnswerSubmitted struct {
	Answer models.Answer
}

// ResultsReady ends the results simulation
type ResultsReady struct{}

// Reset restarts the diagnostic. A hard reset also unbinds an identity
// that was not supplied from outside.
type Reset struct {
	Hard bool
}

func (Registered) eventName() string      { return "registered" }
func (AnswerSubmitted) eventName() string { return "answer_submitted" }
func (ResultsReady) eventName() string    { return "results_ready" }
func (Reset) eventName() string           { return "reset" }

// NewState returns the initial state. A non-empty userID is treated as an
// identity bound from outside and skips registration.
func NewState(userID string, cat Catalog) (models.DiagnosticState, error) {
	if userID == "" {
		return models.DiagnosticState{Stage: models.StageRegistration}, nil
	}
	return enterStageOne(models.DiagnosticState{UserID: userID, IdentityExternal: true}, cat)
}

// Transition applies one event and returns the next state
func Transition(s models.DiagnosticState, ev Event, cat Catalog) (models.DiagnosticState, error) {
	switch e := ev.(type) {
	case Reset:
		return reset(s, e.Hard, cat)

	case Registered:
		if s.Stage != models.StageRegistration {
			return s, notAccepted(s, ev)
		}
		if e.UserID == "" {
			return s, ErrMissingIdentity
		}
		return enterStageOne(models.DiagnosticState{UserID: e.UserID}, cat)

	case AnswerSubmitted:
		switch s.Stage {
		case models.StageOne:
			return answerStageOne(s, e.Answer, cat)
		case models.StageTwo:
			return answerStageTwo(s, e.Answer, cat)
		}
		return s, notAccepted(s, ev)

	case ResultsReady:
		if s.Stage != models.StageResultsSimulation {
			return s, notAccepted(s, ev)
		}
		next := clone(s)
		next.Stage = models.StageServiceOptions
		return next, nil
	}

	return s, fmt.Errorf("%w: unknown event %T", ErrEventNotAccepted, ev)
}

func notAccepted(s models.DiagnosticState, ev Event) error {
	return fmt.Errorf("%w: %s in %s", ErrEventNotAccepted, ev.eventName(), s.Stage)
}

func reset(s models.DiagnosticState, hard bool, cat Catalog) (models.DiagnosticState, error) {
	next := models.DiagnosticState{UserID: s.UserID, IdentityExternal: s.IdentityExternal}
	if hard && !s.IdentityExternal {
		next.UserID = ""
	}
	if next.UserID == "" {
		return models.DiagnosticState{Stage: models.StageRegistration}, nil
	}
	return enterStageOne(next, cat)
}

// enterStageOne clears progress; a catalog without Stage-One questions
// classifies right away so the flow cannot stall
func enterStageOne(s models.DiagnosticState, cat Catalog) (models.DiagnosticState, error) {
	next := models.DiagnosticState{
		Stage:            models.StageOne,
		UserID:           s.UserID,
		IdentityExternal: s.IdentityExternal,
		StageOneAnswers:  []models.Answer{},
		StageTwoAnswers:  []models.Answer{},
	}
	if len(cat.StageOneQuestions()) == 0 {
		return completeStageOne(next, cat)
	}
	return next, nil
}

func answerStageOne(s models.DiagnosticState, a models.Answer, cat Catalog) (models.DiagnosticState, error) {
	questions := cat.StageOneQuestions()
	if s.Cursor < 0 || s.Cursor >= len(questions) {
		return s, fmt.Errorf("%w: %d of %d", ErrCursorOutOfRange, s.Cursor, len(questions))
	}

	q := questions[s.Cursor]
	if err := checkAnswer(q.ID, q.Kind, a); err != nil {
		return s, err
	}

	next := clone(s)
	next.StageOneAnswers = append(next.StageOneAnswers, a)
	if next.Cursor < len(questions)-1 {
		next.Cursor++
		return next, nil
	}
	return completeStageOne(next, cat)
}

func completeStageOne(s models.DiagnosticState, cat Catalog) (models.DiagnosticState, error) {
	c, err := Classify(s.StageOneAnswers, cat.StageOneQuestions(), cat.ListAreas())
	if err != nil {
		return s, err
	}

	next := clone(s)
	area := c.Area
	next.DeterminedArea = &area
	next.Votes = c.Votes
	next.Fallback = c.Fallback
	next.Cursor = 0

	if area.FullyImplemented && len(cat.StageTwoQuestions(area.ID)) > 0 {
		next.Stage = models.StageTwo
		next.StageTwoAnswers = []models.Answer{}
		return next, nil
	}

	next.Stage = models.StageResultsSimulation
	return next, nil
}

func answerStageTwo(s models.DiagnosticState, a models.Answer, cat Catalog) (models.DiagnosticState, error) {
	if s.DeterminedArea == nil {
		return s, ErrNoDeterminedArea
	}

	questions := cat.StageTwoQuestions(s.DeterminedArea.ID)
	if s.Cursor < 0 || s.Cursor >= len(questions) {
		return s, fmt.Errorf("%w: %d of %d", ErrCursorOutOfRange, s.Cursor, len(questions))
	}

	q := questions[s.Cursor]
	if err := checkAnswer(q.ID, q.Kind, a); err != nil {
		return s, err
	}

	next := clone(s)
	next.StageTwoAnswers = append(next.StageTwoAnswers, a)
	if next.Cursor < len(questions)-1 {
		next.Cursor++
		return next, nil
	}

	next.Stage = models.StageResultsSimulation
	next.Cursor = 0
	return next, nil
}

func checkAnswer(questionID string, kind models.QuestionKind, a models.Answer) error {
	if a.QuestionID != questionID {
		return fmt.Errorf("%w: expected %q, got %q", ErrQuestionMismatch, questionID, a.QuestionID)
	}
	if !kind.Accepts(a.Kind) {
		return fmt.Errorf("%w: question %q expects %s", ErrAnswerKind, questionID, kind)
	}
	return nil
}

// clone copies the answer slices so a transition never writes into the caller's arrays
func clone(s models.DiagnosticState) models.DiagnosticState {
	next := s
	next.StageOneAnswers = append([]models.Answer{}, s.StageOneAnswers...)
	next.StageTwoAnswers = append([]models.Answer{}, s.StageTwoAnswers...)
	return next
}

// Prompt is the question currently waiting for an answer
type Prompt struct {
	Stage     models.TestStage    `json:"stage"`
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Kind      models.QuestionKind `json:"kind"`
	Reference string              `json:"reference,omitempty"`
}

// CurrentPrompt returns the question under the cursor, if the stage asks one
func CurrentPrompt(s models.DiagnosticState, cat Catalog) (Prompt, bool) {
	switch s.Stage {
	case models.StageOne:
		questions := cat.StageOneQuestions()
		if s.Cursor < 0 || s.Cursor >= len(questions) {
			return Prompt{}, false
		}
		q := questions[s.Cursor]
		return Prompt{Stage: s.Stage, Index: s.Cursor, Total: len(questions), ID: q.ID, Text: q.Text, Kind: q.Kind}, true

	case models.StageTwo:
		if s.DeterminedArea == nil {
			return Prompt{}, false
		}
		questions := cat.StageTwoQuestions(s.DeterminedArea.ID)
		if s.Cursor < 0 || s.Cursor >= len(questions) {
			return Prompt{}, false
		}
		q := questions[s.Cursor]
		return Prompt{
			Stage:     s.Stage,
			Index:     s.Cursor,
			Total:     len(questions),
			ID:        q.ID,
			Text:      q.Text,
			Kind:      q.Kind,
			Reference: q.Reference,
		}, true
	}
	return Prompt{}, false
}

// AffirmativeCount counts the boolean true answers
func AffirmativeCount(answers []models.Answer) int {
	n := 0
	for _, a := range answers {
		if a.IsYes() {
			n++
		}
	}
	return n
}
