package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned when a pipeline definition does not
// conform to the definition schema.
var ErrInvalidDefinition = errors.New("invalid pipeline definition")

//go:embed pipeline.schema.json
var definitionSchema []byte

// Definition is a pipeline read from YAML.
type Definition struct {
	Outputs  []string         `yaml:"outputs"`
	CacheDir string           `yaml:"cache_dir"`
	UseCache *bool            `yaml:"use_cache"`
	Steps    []StepDefinition `yaml:"steps"`
}

// StepDefinition is one step of a Definition. Func names an entry of a Registry.
type StepDefinition struct {
	Name   string         `yaml:"name"`
	Func   string         `yaml:"func"`
	Args   []any          `yaml:"args"`
	Kwargs map[string]any `yaml:"kwargs"`
	Cache  bool           `yaml:"cache"`
	Return ReturnNames    `yaml:"return"`
}

// ReturnNames accepts either a single name or a list of names.
type ReturnNames []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *ReturnNames) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = ReturnNames{node.Value}

		return nil
	}

	var names []string

	err := node.Decode(&names)
	if err != nil {
		return fmt.Errorf("decode return names: %w", err)
	}

	*r = names

	return nil
}

// LoadDefinition reads and validates a YAML definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// ParseDefinition validates YAML data against the definition schema and decodes it.
func ParseDefinition(data []byte) (*Definition, error) {
	var doc any

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	err = validateDocument(doc)
	if err != nil {
		return nil, err
	}

	var def Definition

	err = yaml.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return &def, nil
}

func validateDocument(doc any) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(definitionSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		problems = append(problems, verr.Field()+": "+verr.Description())
	}

	return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
}

// Build resolves every step function in registry and returns parsed steps.
func (d *Definition) Build(registry *Registry) ([]Step, error) {
	steps := make([]Step, 0, len(d.Steps))

	for _, sd := range d.Steps {
		fn, err := registry.Lookup(sd.Func)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sd.Name, err)
		}

		step, err := NewStep(StepSpec{
			Name:    sd.Name,
			Func:    fn,
			Args:    sd.Args,
			Kwargs:  sd.Kwargs,
			Cache:   sd.Cache,
			Returns: sd.Return,
		})
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// Apply overlays the definition's outputs and cache settings onto cfg.
func (d *Definition) Apply(cfg RunnerConfig) RunnerConfig {
	if len(d.Outputs) > 0 {
		cfg.Outputs = d.Outputs
	}

	if d.CacheDir != "" {
		cfg.CacheDir = d.CacheDir
	}

	if d.UseCache != nil {
		cfg.UseCache = *d.UseCache
	}

	return cfg
}
