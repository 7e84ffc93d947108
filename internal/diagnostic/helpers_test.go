package diagnostic

import (
	"github.com/terra-clan/legal-diagnostic/internal/models"
)

// fakeCatalog is a fixed in-memory Catalog
type fakeCatalog struct {
	areas    []models.LawArea
	stageOne []models.StageOneQuestion
	stageTwo map[models.LawAreaID][]models.AssessmentQuestion
}

func (c *fakeCatalog) ListAreas() []models.LawArea { return c.areas }

func (c *fakeCatalog) StageOneQuestions() []models.StageOneQuestion { return c.stageOne }

func (c *fakeCatalog) StageTwoQuestions(id models.LawAreaID) []models.AssessmentQuestion {
	return c.stageTwo[id]
}

var (
	labor      = models.LawArea{ID: models.AreaLabor, Name: "Derecho Laboral", FullyImplemented: true, Framework: "Código Sustantivo del Trabajo (CST)"}
	criminal   = models.LawArea{ID: models.AreaCriminal, Name: "Derecho Penal", FullyImplemented: true}
	commercial = models.LawArea{ID: models.AreaCommercial, Name: "Mercantil", FullyImplemented: true}
	family     = models.LawArea{ID: models.AreaFamily, Name: "Derecho de Familia"}
	aiEthics   = models.LawArea{ID: models.AreaAIEthics, Name: "Ética y Cumplimiento en IA", FullyImplemented: true}
)

// newTestCatalog: Labor and Criminal implemented with questions,
// Commercial implemented without questions, Family not implemented
func newTestCatalog() *fakeCatalog {
	return &fakeCatalog{
		areas: []models.LawArea{labor, criminal, commercial, family},
		stageOne: []models.StageOneQuestion{
			{ID: "q_labor", Text: "¿Empleo?", Kind: models.QuestionYesNo, MapsTo: []models.LawAreaID{models.AreaLabor}},
			{ID: "q_criminal", Text: "¿Delito?", Kind: models.QuestionYesNo, MapsTo: []models.LawAreaID{models.AreaCriminal}},
			{ID: "q_company", Text: "¿Empresa?", Kind: models.QuestionYesNo, MapsTo: []models.LawAreaID{models.AreaCommercial}},
			{ID: "q_family", Text: "¿Familia?", Kind: models.QuestionYesNo, MapsTo: []models.LawAreaID{models.AreaFamily}},
		},
		stageTwo: map[models.LawAreaID][]models.AssessmentQuestion{
			models.AreaLabor: {
				{ID: "lab_dismissal", Text: "¿Fue despedido sin justa causa?", Reference: "CST, Art. 64"},
				{ID: "lab_severance", Text: "¿No le pagaron las cesantías?", Reference: "CST, Art. 249"},
				{ID: "lab_vacation", Text: "¿Tiene vacaciones pendientes?"},
			},
			models.AreaCriminal: {
				{ID: "crim_accused", Text: "¿Fue citado por la Fiscalía?"},
			},
			models.AreaFamily: {
				{ID: "fam_divorce", Text: "¿Divorcio?"},
			},
		},
	}
}

// answersFor answers the stage one questions in order, true for the ids in yes
func answersFor(cat *fakeCatalog, yes ...string) []models.Answer {
	set := make(map[string]bool, len(yes))
	for _, id := range yes {
		set[id] = true
	}
	answers := make([]models.Answer, 0, len(cat.stageOne))
	for _, q := range cat.stageOne {
		answers = append(answers, models.YesNo(q.ID, set[q.ID]))
	}
	return answers
}

// mustTransition applies events and panics on the first error
func mustTransition(s models.DiagnosticState, cat Catalog, events ...Event) models.DiagnosticState {
	for _, ev := range events {
		next, err := Transition(s, ev, cat)
		if err != nil {
			panic(err)
		}
		s = next
	}
	return s
}

func submit(answers ...models.Answer) []Event {
	events := make([]Event, 0, len(answers))
	for _, a := range answers {
		events = append(events, AnswerSubmitted{Answer: a})
	}
	return events
}
