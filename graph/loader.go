package graph

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// Definition is the on-disk YAML shape of a workflow.
type Definition struct {
	Name        string           `yaml:"name"`
	Nodes       []NodeSpec       `yaml:"nodes"`
	Connections []Connection     `yaml:"connections"`
	Groups      []IterationGroup `yaml:"groups"`
}

// Build validates the definition into a WorkflowGraph.
func (d *Definition) Build() (*WorkflowGraph, error) {
	return Build(d.Nodes, d.Connections, d.Groups...)
}

// WorkflowLoader loads workflow definitions by name.
type WorkflowLoader interface {
	Load(name string) (*Definition, error)
}

// FileWorkflowLoader loads workflows from YAML files on disk.
type FileWorkflowLoader struct {
	dirs []string
}

// NewFileWorkflowLoader creates a loader that searches the given
// directories for workflow YAML files.
func NewFileWorkflowLoader(dirs ...string) *FileWorkflowLoader {
	return &FileWorkflowLoader{dirs: dirs}
}

// Load searches for {name}.yaml or {name}.yml in each configured directory.
func (l *FileWorkflowLoader) Load(name string) (*Definition, error) {
	for _, dir := range l.dirs {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, name+ext)
			if d, err := loadDefinitionFile(path); err == nil {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("graph: workflow %q not found in %v", name, l.dirs)
}

// LoadDefinition loads a workflow definition from explicit file paths,
// trying each until one succeeds.
func LoadDefinition(name string, paths ...string) (*Definition, error) {
	for _, path := range paths {
		d, err := loadDefinitionFile(path)
		if err == nil {
			return d, nil
		}
	}
	return nil, fmt.Errorf("graph: workflow %q not found in provided paths", name)
}

func loadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("graph: parsing %s: %w", path, err)
	}
	return &d, nil
}
