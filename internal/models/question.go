package models

// QuestionKind describes the value a question expects
type QuestionKind string

const (
	QuestionYesNo QuestionKind = "yes_no"
	QuestionText  QuestionKind = "text"
)

// Accepts reports whether an answer of the given kind fits the question
func (k QuestionKind) Accepts(a AnswerKind) bool {
	switch k {
	case QuestionText:
		return a == AnswerText
	default:
		return a == AnswerBoolean
	}
}

// StageOneQuestion is an area-agnostic classification question.
// A "yes" contributes one vote to every area in MapsTo.
type StageOneQuestion struct {
	ID     string       `json:"id"`
	Text   string       `json:"text"`
	Kind   QuestionKind `json:"kind"`
	MapsTo []LawAreaID  `json:"mapsToArea,omitempty"`
}

// IsMapped returns true if a yes answer contributes votes
func (q StageOneQuestion) IsMapped() bool {
	return len(q.MapsTo) > 0
}

// AssessmentQuestion is an area-specific Stage-Two detail question
type AssessmentQuestion struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Kind      QuestionKind `json:"kind"`
	Reference string       `json:"reference,omitempty"` // e.g. "CST, Art. 64"
}
