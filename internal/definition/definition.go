package definition

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/gantry/internal/domain"
)

// RootStageID names the sequential group that holds a pipeline's top-level
// stages.
const RootStageID = "pipeline"

// Definition is a pipeline as written in YAML.
type Definition struct {
	Name          string                 `yaml:"name" json:"name"`
	Description   string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Options       domain.OptionOverrides `yaml:"options,omitempty" json:"options,omitempty"`
	Parameters    []Parameter            `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Environment   map[string]string      `yaml:"environment,omitempty" json:"environment,omitempty"`
	Notifications []domain.ChannelConfig `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	Stages        []Stage                `yaml:"stages" json:"stages"`

	Source string `yaml:"-" json:"source,omitempty"`
}

// Parameter declares a build parameter. A parameter with choices accepts only
// those values.
type Parameter struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Default     *string  `yaml:"default,omitempty" json:"default,omitempty"`
	Choices     []string `yaml:"choices,omitempty" json:"choices,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// Stage is a leaf when it has run, a sequential group when it has stages and
// a parallel group when it has parallel.
type Stage struct {
	Name      string               `yaml:"name" json:"name"`
	Run       string               `yaml:"run,omitempty" json:"run,omitempty"`
	Stages    []Stage              `yaml:"stages,omitempty" json:"stages,omitempty"`
	Parallel  []Stage              `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	When      string               `yaml:"when,omitempty" json:"when,omitempty"`
	Timeout   time.Duration        `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Approval  *domain.ApprovalSpec `yaml:"approval,omitempty" json:"approval,omitempty"`
	Env       map[string]string    `yaml:"env,omitempty" json:"env,omitempty"`
	Artifacts []string             `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline %q: %w", path, err)
	}
	defer f.Close()

	def, err := Decode(f, path)
	if err != nil {
		return nil, err
	}
	def.Source = path
	return def, nil
}

func Parse(data []byte) (*Definition, error) {
	return Decode(bytes.NewReader(data), "<inline>")
}

// Decode reads one pipeline document. Unknown keys are rejected so typos in a
// definition surface before a run starts.
func Decode(r io.Reader, displayPath string) (*Definition, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var def Definition
	if err := decoder.Decode(&def); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("parse pipeline %q: empty document: %w", displayPath, domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("parse pipeline %q: %w", displayPath, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", displayPath, err)
	}
	return &def, nil
}

// Validate checks the document shape. Graph-level rules such as unique stage
// names are enforced when the graph is built.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return domain.NewStructureError("", "pipeline name is required")
	}

	params := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter without a name: %w", domain.ErrInvalidParameter)
		}
		if params[p.Name] {
			return fmt.Errorf("duplicate parameter %q: %w", p.Name, domain.ErrInvalidParameter)
		}
		params[p.Name] = true
		if p.Default != nil && len(p.Choices) > 0 && !contains(p.Choices, *p.Default) {
			return fmt.Errorf("default %q of parameter %q is not one of its choices: %w", *p.Default, p.Name, domain.ErrInvalidParameter)
		}
	}

	for _, ch := range d.Notifications {
		if ch.Name == "" || ch.Kind == "" {
			return fmt.Errorf("notification channel needs a name and kind: %w", domain.ErrInvalidConfig)
		}
	}

	for _, s := range d.Stages {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s Stage) validate() error {
	if s.Name == "" {
		return domain.NewStructureError("", "stage name is required")
	}

	shapes := 0
	if s.Run != "" {
		shapes++
	}
	if s.Stages != nil {
		shapes++
	}
	if s.Parallel != nil {
		shapes++
	}
	if shapes != 1 {
		return domain.NewStructureError(s.Name, "stage must define exactly one of run, stages or parallel")
	}
	if s.Run == "" && len(s.Artifacts) > 0 {
		return domain.NewStructureError(s.Name, "only run stages declare artifacts")
	}
	if s.Timeout < 0 {
		return domain.NewStructureError(s.Name, "timeout must not be negative")
	}

	for _, child := range append(append([]Stage(nil), s.Stages...), s.Parallel...) {
		if err := child.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s Stage) kind() domain.StageKind {
	switch {
	case s.Stages != nil:
		return domain.StageKindSequential
	case s.Parallel != nil:
		return domain.StageKindParallel
	default:
		return domain.StageKindLeaf
	}
}

func (s Stage) children() []Stage {
	if s.Parallel != nil {
		return s.Parallel
	}
	return s.Stages
}

func (s Stage) node() domain.StageNode {
	return domain.StageNode{
		ID:        s.Name,
		Kind:      s.kind(),
		Condition: s.When,
		Timeout:   s.Timeout,
		Approval:  s.Approval,
		Run:       s.Run,
		Env:       s.Env,
		Artifacts: s.Artifacts,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
