package steps

import (
	"sort"

	"github.com/deixis/devpipe/internal/pipeline"
)

// pipelines maps a command to its ordered steps. A step may carry a
// display name different from its kind.
var pipelines = map[string][]struct {
	Name string
	Kind Kind
}{
	"start": {{"", Install}, {"", Pyright}, {"", Demo}},
	"basic": {{"", Install}, {"", Pyright}, {"", Demo}},
	"all":   {{"", Install}, {"", Docker}, {"", Pyright}, {"", Demo}, {"", Speedtest}},
	"tests": {
		{"", Install},
		{"", Build},
		{"", Pyright},
		{"Start Docker for tests", Docker},
		{"", Demo},
		{"", Speedtest},
	},
}

// Pipeline returns the named pipeline definition bound to the catalog.
func (c *Catalog) Pipeline(name string) (pipeline.Definition, bool) {
	entries, ok := pipelines[name]
	if !ok {
		return pipeline.Definition{}, false
	}
	def := pipeline.Definition{Name: name}
	for _, e := range entries {
		step := c.Step(e.Kind)
		if e.Name != "" {
			step.Name = e.Name
		}
		def.Steps = append(def.Steps, step)
	}
	return def, true
}

// PipelineNames lists the defined pipelines, sorted.
func PipelineNames() []string {
	names := make([]string, 0, len(pipelines))
	for n := range pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definition resolves target to a pipeline, or to a one-step definition
// when target names a single step.
func (c *Catalog) Definition(target string) (pipeline.Definition, bool) {
	if def, ok := c.Pipeline(target); ok {
		return def, true
	}
	kind, ok := ParseKind(target)
	if !ok {
		return pipeline.Definition{}, false
	}
	return pipeline.Definition{Name: target, Steps: []pipeline.Step{c.Step(kind)}}, true
}

// Targets lists every valid Definition target: pipelines first, then steps.
func Targets() []string {
	out := PipelineNames()
	for _, k := range Kinds() {
		out = append(out, k.Spec().Command)
	}
	return out
}
