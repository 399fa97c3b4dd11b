// Package tasksource parses and serializes the four task-source formats
// (CSV, YAML, JSON, Markdown) into the shared Task model.
package tasksource

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Task is the source-agnostic unit of work. Identity is ID; ID is opaque to
// the rest of the kernel.
type Task struct {
	ID            string `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	Body          string `json:"body,omitempty" yaml:"description,omitempty"`
	ParallelGroup int    `json:"parallelGroup,omitempty" yaml:"parallel_group,omitempty"`
	Completed     bool   `json:"completed" yaml:"completed"`
}

// Format identifies a task-source file format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

// DetectFormat maps a source file's extension to its Format.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unrecognized task source extension %q", ext)
	}
}

// Parse parses data according to format into an ordered list of tasks.
func Parse(format Format, data []byte) ([]Task, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(data)
	case FormatYAML:
		return ParseYAML(data)
	case FormatJSON:
		return ParseJSON(data)
	case FormatMarkdown:
		return ParseMarkdown(data)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Write serializes tasks according to format.
func Write(format Format, tasks []Task) ([]byte, error) {
	switch format {
	case FormatCSV:
		return WriteCSV(tasks)
	case FormatYAML:
		return WriteYAML(tasks)
	case FormatJSON:
		return WriteJSON(tasks)
	case FormatMarkdown:
		return WriteMarkdown(tasks)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
