package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/legal-diagnostic/internal/models"
)

//go:embed defaults
var defaultFiles embed.FS

// ErrEmptyRegistry is returned when a catalog defines no areas
var ErrEmptyRegistry = errors.New("area registry is empty")

// Loader holds the question catalog, area registry and service catalog.
// Data is replaced atomically on load and is read-only otherwise.
type Loader struct {
	mu   sync.RWMutex
	data *snapshot
}

type snapshot struct {
	areas     []models.LawArea
	areaIndex map[models.LawAreaID]int
	stageOne  []models.StageOneQuestion
	stageTwo  map[models.LawAreaID][]models.AssessmentQuestion
	services  []models.ServiceOption
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{data: &snapshot{
		areaIndex: make(map[models.LawAreaID]int),
		stageTwo:  make(map[models.LawAreaID][]models.AssessmentQuestion),
	}}
}

// New builds a loader from in-memory definitions
func New(
	areas []models.LawArea,
	stageOne []models.StageOneQuestion,
	stageTwo map[models.LawAreaID][]models.AssessmentQuestion,
	services []models.ServiceOption,
) (*Loader, error) {
	snap, err := newSnapshot(areas, stageOne, stageTwo, services)
	if err != nil {
		return nil, err
	}
	return &Loader{data: snap}, nil
}

// LoadDefaults loads the catalog compiled into the binary
func (l *Loader) LoadDefaults() error {
	sub, err := fs.Sub(defaultFiles, "defaults")
	if err != nil {
		return fmt.Errorf("failed to open embedded catalog: %w", err)
	}
	return l.LoadFromFS(sub)
}

// LoadFromDir loads a catalog directory laid out like the embedded defaults
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading catalog from directory", "dir", dir)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("catalog directory: %w", err)
	}
	return l.LoadFromFS(os.DirFS(dir))
}

// LoadFromFS parses and validates a catalog, then swaps it in
func (l *Loader) LoadFromFS(fsys fs.FS) error {
	var af areasFile
	if err := readYAML(fsys, "areas.yaml", &af); err != nil {
		return err
	}

	var sf questionsFile
	if err := readYAML(fsys, "stage_one.yaml", &sf); err != nil {
		return err
	}

	var svc servicesFile
	if err := readYAML(fsys, "services.yaml", &svc); err != nil {
		return err
	}

	areas := make([]models.LawArea, 0, len(af.Areas))
	for _, a := range af.Areas {
		areas = append(areas, models.LawArea{
			ID:               a.ID,
			Name:             a.Name,
			Description:      a.Description,
			FullyImplemented: a.Implemented,
			Framework:        a.Framework,
		})
	}

	stageOne := make([]models.StageOneQuestion, 0, len(sf.Questions))
	for _, q := range sf.Questions {
		stageOne = append(stageOne, models.StageOneQuestion{
			ID:     q.ID,
			Text:   q.Text,
			Kind:   questionKind(q.Kind),
			MapsTo: q.MapsTo,
		})
	}

	stageTwo, err := loadStageTwo(fsys)
	if err != nil {
		return err
	}

	snap, err := newSnapshot(areas, stageOne, stageTwo, svc.Services)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.data = snap
	l.mu.Unlock()

	slog.Info("catalog loaded",
		"areas", len(snap.areas),
		"stage_one_questions", len(snap.stageOne),
		"stage_two_areas", len(snap.stageTwo),
		"services", len(snap.services),
	)
	return nil
}

// loadStageTwo reads stage_two/<AREA>.yaml files; a missing directory means no area has questions
func loadStageTwo(fsys fs.FS) (map[models.LawAreaID][]models.AssessmentQuestion, error) {
	result := make(map[models.LawAreaID][]models.AssessmentQuestion)

	entries, err := fs.ReadDir(fsys, "stage_two")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read stage_two directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		areaID := models.LawAreaID(strings.TrimSuffix(entry.Name(), path.Ext(entry.Name())))

		var qf questionsFile
		if err := readYAML(fsys, path.Join("stage_two", entry.Name()), &qf); err != nil {
			return nil, err
		}

		questions := make([]models.AssessmentQuestion, 0, len(qf.Questions))
		for _, q := range qf.Questions {
			questions = append(questions, models.AssessmentQuestion{
				ID:        q.ID,
				Text:      q.Text,
				Kind:      questionKind(q.Kind),
				Reference: q.Reference,
			})
		}
		result[areaID] = questions
	}

	return result, nil
}

func newSnapshot(
	areas []models.LawArea,
	stageOne []models.StageOneQuestion,
	stageTwo map[models.LawAreaID][]models.AssessmentQuestion,
	services []models.ServiceOption,
) (*snapshot, error) {
	if len(areas) == 0 {
		return nil, ErrEmptyRegistry
	}

	snap := &snapshot{
		areas:     append([]models.LawArea(nil), areas...),
		areaIndex: make(map[models.LawAreaID]int, len(areas)),
		stageOne:  append([]models.StageOneQuestion(nil), stageOne...),
		stageTwo:  make(map[models.LawAreaID][]models.AssessmentQuestion, len(stageTwo)),
		services:  append([]models.ServiceOption(nil), services...),
	}

	for i, a := range snap.areas {
		if a.ID == "" {
			return nil, fmt.Errorf("area #%d has no id", i+1)
		}
		if !a.ID.IsKnown() {
			return nil, fmt.Errorf("area id %q is not a known practice area", a.ID)
		}
		if _, dup := snap.areaIndex[a.ID]; dup {
			return nil, fmt.Errorf("duplicate area id %q", a.ID)
		}
		snap.areaIndex[a.ID] = i
	}

	seen := make(map[string]bool, len(stageOne))
	for _, q := range snap.stageOne {
		if q.ID == "" || seen[q.ID] {
			return nil, fmt.Errorf("stage one question id %q is empty or duplicated", q.ID)
		}
		seen[q.ID] = true
		mapped := make(map[models.LawAreaID]bool, len(q.MapsTo))
		for _, id := range q.MapsTo {
			if _, ok := snap.areaIndex[id]; !ok {
				return nil, fmt.Errorf("stage one question %q maps to unknown area %q", q.ID, id)
			}
			if mapped[id] {
				return nil, fmt.Errorf("stage one question %q maps to area %q twice", q.ID, id)
			}
			mapped[id] = true
		}
	}

	for areaID, questions := range stageTwo {
		if _, ok := snap.areaIndex[areaID]; !ok {
			return nil, fmt.Errorf("stage two questions defined for unknown area %q", areaID)
		}
		ids := make(map[string]bool, len(questions))
		for _, q := range questions {
			if q.ID == "" || ids[q.ID] {
				return nil, fmt.Errorf("stage two question id %q in area %s is empty or duplicated", q.ID, areaID)
			}
			ids[q.ID] = true
		}
		if len(questions) > 0 {
			snap.stageTwo[areaID] = append([]models.AssessmentQuestion(nil), questions...)
		}
	}

	svcIDs := make(map[string]bool, len(services))
	for _, s := range snap.services {
		if s.ID == "" || svcIDs[s.ID] {
			return nil, fmt.Errorf("service id %q is empty or duplicated", s.ID)
		}
		if s.Price < 0 {
			return nil, fmt.Errorf("service %q has a negative price", s.ID)
		}
		svcIDs[s.ID] = true
	}

	return snap, nil
}

func (l *Loader) current() *snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// --- Accessors ---

// ListAreas returns the registry in order
func (l *Loader) ListAreas() []models.LawArea {
	return append([]models.LawArea(nil), l.current().areas...)
}

// GetArea returns an area by id, or nil
func (l *Loader) GetArea(id models.LawAreaID) *models.LawArea {
	snap := l.current()
	idx, ok := snap.areaIndex[id]
	if !ok {
		return nil
	}
	area := snap.areas[idx]
	return &area
}

// StageOneQuestions returns the classification questions in presentation order
func (l *Loader) StageOneQuestions() []models.StageOneQuestion {
	return append([]models.StageOneQuestion(nil), l.current().stageOne...)
}

// StageTwoQuestions returns the area's detail questions; empty when none are defined
func (l *Loader) StageTwoQuestions(id models.LawAreaID) []models.AssessmentQuestion {
	return append([]models.AssessmentQuestion{}, l.current().stageTwo[id]...)
}

// LegalFramework returns the citation registered for an area
func (l *Loader) LegalFramework(id models.LawAreaID) string {
	if area := l.GetArea(id); area != nil {
		return area.Framework
	}
	return ""
}

// ListServices returns the service catalog in order
func (l *Loader) ListServices() []models.ServiceOption {
	return append([]models.ServiceOption(nil), l.current().services...)
}

// GetService returns a service by id, or nil
func (l *Loader) GetService(id string) *models.ServiceOption {
	for _, s := range l.current().services {
		if s.ID == id {
			svc := s
			return &svc
		}
	}
	return nil
}

// --- YAML file structs ---

type areasFile struct {
	Areas []struct {
		ID          models.LawAreaID `yaml:"id"`
		Name        string           `yaml:"name"`
		Description string           `yaml:"description"`
		Implemented bool             `yaml:"implemented"`
		Framework   string           `yaml:"framework"`
	} `yaml:"areas"`
}

type questionsFile struct {
	Questions []questionEntry `yaml:"questions"`
}

type questionEntry struct {
	ID        string      `yaml:"id"`
	Text      string      `yaml:"text"`
	Kind      string      `yaml:"kind"`
	MapsTo    areaMapping `yaml:"maps_to"`
	Reference string      `yaml:"reference"`
}

type servicesFile struct {
	Services []models.ServiceOption `yaml:"services"`
}

// areaMapping accepts either a single area id or a list of ids
type areaMapping []models.LawAreaID

func (m *areaMapping) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*m = nil
			return nil
		}
		*m = areaMapping{models.LawAreaID(node.Value)}
		return nil
	case yaml.SequenceNode:
		var ids []models.LawAreaID
		if err := node.Decode(&ids); err != nil {
			return err
		}
		*m = ids
		return nil
	default:
		return fmt.Errorf("line %d: maps_to must be an area id or a list of area ids", node.Line)
	}
}

func questionKind(raw string) models.QuestionKind {
	if models.QuestionKind(raw) == models.QuestionText {
		return models.QuestionText
	}
	return models.QuestionYesNo
}

func readYAML(fsys fs.FS, name string, out interface{}) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
