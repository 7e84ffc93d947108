package diagnostic

import (
	"fmt"
	"strings"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

const clauseSeparator = "; "

// SummaryInput is everything the summarizer reads. Stage-One clauses are
// only added when IncludeStageOne is set; a non-empty Framework overrides
// Area.Framework.
type SummaryInput struct {
	Area              models.LawArea
	StageTwoAnswers   []models.Answer
	StageTwoQuestions []models.AssessmentQuestion
	IncludeStageOne   bool
	StageOneAnswers   []models.Answer
	StageOneQuestions []models.StageOneQuestion
	Framework         string
}

// Summary is the natural-language synopsis handed to the chat assistant
// and to the results view
type Summary struct {
	AreaID    models.LawAreaID `json:"area_id"`
	Text      string           `json:"text"`
	Framework string           `json:"framework,omitempty"`
	Clauses   []string         `json:"clauses"`
}

// InputFor builds the summary input of a classified state. Stage-One
// answers are folded in only when the area skipped Stage Two, so a user who
// answered no to every detail question still gets the neutral sentence.
func InputFor(s models.DiagnosticState, cat Catalog, framework string) SummaryInput {
	if s.DeterminedArea == nil {
		return SummaryInput{Framework: framework}
	}

	area := *s.DeterminedArea
	stageTwo := cat.StageTwoQuestions(area.ID)
	in := SummaryInput{
		Area:              area,
		StageTwoAnswers:   s.StageTwoAnswers,
		StageTwoQuestions: stageTwo,
		Framework:         framework,
	}
	if !area.FullyImplemented || len(stageTwo) == 0 {
		in.IncludeStageOne = true
		in.StageOneAnswers = s.StageOneAnswers
		in.StageOneQuestions = cat.StageOneQuestions()
	}
	return in
}

// Summarize folds the true answers into one sentence per question, falls
// back to a neutral sentence naming the area, and appends the legal
// framework citation. The output depends only on the input.
func Summarize(in SummaryInput) Summary {
	clauses := make([]string, 0, len(in.StageTwoAnswers))

	if in.IncludeStageOne {
		texts := make(map[string]string, len(in.StageOneQuestions))
		for _, q := range in.StageOneQuestions {
			texts[q.ID] = q.Text
		}
		for _, a := range in.StageOneAnswers {
			if text, ok := texts[a.QuestionID]; ok && a.IsYes() {
				clauses = append(clauses, fmt.Sprintf("En la evaluación inicial, indicó que sí a: '%s'", text))
			}
		}
	}

	byID := make(map[string]models.AssessmentQuestion, len(in.StageTwoQuestions))
	for _, q := range in.StageTwoQuestions {
		byID[q.ID] = q
	}
	for _, a := range in.StageTwoAnswers {
		q, ok := byID[a.QuestionID]
		if !ok || !a.IsYes() {
			continue
		}
		clause := fmt.Sprintf("En %s, indicó que sí a: '%s'", in.Area.Name, q.Text)
		if q.Reference != "" {
			clause += fmt.Sprintf(" (Ref: %s)", q.Reference)
		}
		clauses = append(clauses, clause)
	}

	var b strings.Builder
	if len(clauses) == 0 {
		fmt.Fprintf(&b, "Su consulta está relacionada con %s, pero no proporcionó detalles específicos sobre su situación.", areaLabel(in.Area))
	} else {
		b.WriteString(strings.Join(clauses, clauseSeparator))
		b.WriteString(".")
	}

	framework := in.Framework
	if framework == "" {
		framework = in.Area.Framework
	}
	if framework != "" {
		fmt.Fprintf(&b, " Marco legal aplicable: %s.", framework)
	}

	return Summary{
		AreaID:    in.Area.ID,
		Text:      b.String(),
		Framework: framework,
		Clauses:   clauses,
	}
}

func areaLabel(area models.LawArea) string {
	if area.Name != "" {
		return area.Name
	}
	if area.ID != "" {
		return string(area.ID)
	}
	return "un área legal"
}
