package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AnswerKind tags the variant held by an Answer
type AnswerKind string

const (
	AnswerBoolean AnswerKind = "boolean"
	AnswerText    AnswerKind = "text"
)

// ErrInvalidAnswerValue is returned when an answer value is neither a bool nor a string
var ErrInvalidAnswerValue = errors.New("answer value must be a boolean or a string")

// Answer is one response to a question. Exactly one of Bool or Text is
// meaningful, selected by Kind.
type Answer struct {
	QuestionID string
	Kind       AnswerKind
	Bool       bool
	Text       string
}

// YesNo builds a boolean answer
func YesNo(questionID string, value bool) Answer {
	return Answer{QuestionID: questionID, Kind: AnswerBoolean, Bool: value}
}

// TextAnswer builds a free-text answer
func TextAnswer(questionID, text string) Answer {
	return Answer{QuestionID: questionID, Kind: AnswerText, Text: text}
}

// IsYes reports whether the answer is a boolean true
func (a Answer) IsYes() bool {
	return a.Kind == AnswerBoolean && a.Bool
}

type answerJSON struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
}

// MarshalJSON encodes the answer as {"question_id": ..., "value": bool|string}
func (a Answer) MarshalJSON() ([]byte, error) {
	var value interface{}
	switch a.Kind {
	case AnswerText:
		value = a.Text
	case AnswerBoolean:
		value = a.Bool
	default:
		return nil, fmt.Errorf("answer %q: unknown kind %q", a.QuestionID, a.Kind)
	}
	return json.Marshal(struct {
		QuestionID string      `json:"question_id"`
		Value      interface{} `json:"value"`
	}{a.QuestionID, value})
}

// UnmarshalJSON picks the variant from the JSON type of "value"
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw answerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var b bool
	if err := json.Unmarshal(raw.Value, &b); err == nil {
		*a = YesNo(raw.QuestionID, b)
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		*a = TextAnswer(raw.QuestionID, s)
		return nil
	}

	return ErrInvalidAnswerValue
}
