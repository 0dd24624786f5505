package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chunkflow/pkg/pipeline"
)

const sampleDefinition = `
outputs: [words, count]
cache_dir: .cache
use_cache: false
steps:
  - name: load
    func: split
    args: ["#text#"]
    kwargs:
      sep: " "
    return: words
  - name: measure
    func: count
    args: ["#words#"]
    cache: true
    return: [count]
`

func testRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()

	reg := pipeline.NewRegistry()

	require.NoError(t, reg.Register("split", pipeline.InvocableFunc(func(_ context.Context, args pipeline.Args) (any, error) {
		text, _ := args.At(0)
		sep, _ := args.Kwarg("sep")

		return strings.Split(text.(string), sep.(string)), nil
	})))
	require.NoError(t, reg.Register("count", pipeline.InvocableFunc(func(_ context.Context, args pipeline.Args) (any, error) {
		words, _ := args.At(0)

		return len(words.([]string)), nil
	})))

	return reg
}

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	def, err := pipeline.ParseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, []string{"words", "count"}, def.Outputs)
	assert.Equal(t, ".cache", def.CacheDir)
	require.NotNil(t, def.UseCache)
	assert.False(t, *def.UseCache)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, pipeline.ReturnNames{"words"}, def.Steps[0].Return)
	assert.Equal(t, pipeline.ReturnNames{"count"}, def.Steps[1].Return)
	assert.Equal(t, map[string]any{"sep": " "}, def.Steps[0].Kwargs)
	assert.True(t, def.Steps[1].Cache)
}

func TestParseDefinition_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: ""},
		{name: "no steps", yaml: "outputs: [x]\n"},
		{name: "step without func", yaml: "steps:\n  - name: a\n"},
		{name: "unknown field", yaml: "steps:\n  - name: a\n    func: f\n    retry: 3\n"},
		{name: "numeric return", yaml: "steps:\n  - name: a\n    func: f\n    return: 3\n"},
		{name: "bad name", yaml: "steps:\n  - name: a/b\n    func: f\n"},
		{name: "malformed yaml", yaml: "steps: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := pipeline.ParseDefinition([]byte(tt.yaml))
			require.ErrorIs(t, err, pipeline.ErrInvalidDefinition)
		})
	}
}

func TestDefinition_BuildAndRun(t *testing.T) {
	t.Parallel()

	def, err := pipeline.ParseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)

	// The text variable is seeded by a literal first step.
	def.Steps = append([]pipeline.StepDefinition{{
		Name: "seed", Func: "seed", Args: []any{"to be or not"}, Return: pipeline.ReturnNames{"text"},
	}}, def.Steps...)

	reg := testRegistry(t)
	require.NoError(t, reg.Register("seed", pipeline.InvocableFunc(func(_ context.Context, args pipeline.Args) (any, error) {
		v, _ := args.At(0)

		return v, nil
	})))

	steps, err := def.Build(reg)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	cfg := def.Apply(pipeline.RunnerConfig{CacheDir: t.TempDir(), UseCache: true})
	assert.False(t, cfg.UseCache)
	assert.Equal(t, ".cache", cfg.CacheDir)

	cfg.CacheDir = ""

	r, err := pipeline.NewRunner(steps, cfg)
	require.NoError(t, err)

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.Outputs{[]string{"to", "be", "or", "not"}, 4}, out)
}

func TestDefinition_BuildUnknownFunction(t *testing.T) {
	t.Parallel()

	def, err := pipeline.ParseDefinition([]byte("steps:\n  - name: a\n    func: missing\n"))
	require.NoError(t, err)

	_, err = def.Build(pipeline.NewRegistry())
	require.ErrorIs(t, err, pipeline.ErrUnknownFunction)
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinition), 0o600))

	def, err := pipeline.LoadDefinition(path)
	require.NoError(t, err)
	assert.Len(t, def.Steps, 2)

	_, err = pipeline.LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)

	assert.Equal(t, []string{"count", "split"}, reg.Names())

	err := reg.Register("count", constant(1))
	require.ErrorIs(t, err, pipeline.ErrDuplicateFunction)

	err = reg.Register("", constant(1))
	require.ErrorIs(t, err, pipeline.ErrInvalidStep)

	_, err = reg.Lookup("nope")
	require.ErrorIs(t, err, pipeline.ErrUnknownFunction)
}
