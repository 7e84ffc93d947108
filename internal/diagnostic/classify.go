// Package diagnostic implements the two-stage legal diagnostic: classification
// of Stage-One answers into a practice area, the stage progression state
// machine, the diagnostic summary and the service recommendation policy.
// Everything here is pure and independent of transport and storage.
package diagnostic

import (
	"errors"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// ErrEmptyRegistry is a configuration error: there is no area to classify into
var ErrEmptyRegistry = errors.New("diagnostic: area registry is empty")

// Catalog is the read-only question catalog and area registry
type Catalog interface {
	ListAreas() []models.LawArea
	StageOneQuestions() []models.StageOneQuestion
	StageTwoQuestions(id models.LawAreaID) []models.AssessmentQuestion
}

// Classification is the outcome of Stage One
type Classification struct {
	Area     models.LawArea           `json:"area"`
	Votes    map[models.LawAreaID]int `json:"votes"`
	Fallback bool                     `json:"fallback"`
}

// Classify counts votes over the true answers and picks the area with the
// strictly highest count. Every area mapped by a question gets a full vote.
// When several areas share the top count, the one that reached that count
// first in submission order wins, so appending a vote only changes the
// winner when it pushes an area above the previous maximum.
//
// Without any vote, or when the winner is not registered, the first
// implemented area is returned, then the first area of the registry.
func Classify(answers []models.Answer, questions []models.StageOneQuestion, areas []models.LawArea) (Classification, error) {
	if len(areas) == 0 {
		return Classification{}, ErrEmptyRegistry
	}

	byID := make(map[string]models.StageOneQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	votes := make(map[models.LawAreaID]int)
	var leader models.LawAreaID
	best := 0

	for _, a := range answers {
		if !a.IsYes() {
			continue
		}
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		for _, id := range q.MapsTo {
			votes[id]++
			if votes[id] > best {
				best = votes[id]
				leader = id
			}
		}
	}

	if best > 0 {
		for _, area := range areas {
			if area.ID == leader {
				return Classification{Area: area, Votes: votes}, nil
			}
		}
	}

	return Classification{Area: fallbackArea(areas), Votes: votes, Fallback: true}, nil
}

func fallbackArea(areas []models.LawArea) models.LawArea {
	for _, area := range areas {
		if area.FullyImplemented {
			return area
		}
	}
	return areas[0]
}
