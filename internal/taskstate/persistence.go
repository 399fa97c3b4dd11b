package taskstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/VX1D/ralphy/internal/jsonsafe"
	"github.com/VX1D/ralphy/internal/tasksource"
)

// StatePath builds the canonical "<workDir>/.ralphy/task-state.<ext>" path
// for a task source of the given format.
func StatePath(workDir string, format tasksource.Format) string {
	return filepath.Join(workDir, ".ralphy", "task-state."+stateExt(format))
}

func stateExt(format tasksource.Format) string {
	switch format {
	case tasksource.FormatYAML:
		return "yaml"
	case tasksource.FormatCSV:
		return "csv"
	case tasksource.FormatMarkdown:
		return "md"
	default:
		return "json"
	}
}

// loadDocument reads the state file if present, returning its tasks keyed
// by the entry key used on disk. A missing file is not an error: it simply
// yields an empty map, as on first run.
//
// CSV and Markdown cannot represent the nested {version, lastUpdated,
// tasks: map} schema in their native grammar (a checklist line or a flat
// row has no slot for attemptCount or errorHistory), so the state file
// always carries actual JSON content regardless of its .csv/.md extension;
// only the filename extension tracks the source format. YAML and JSON
// state files are genuine YAML/JSON.
func loadDocument(path string, format tasksource.Format) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("read task state: %w", err)
	}
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}

	var doc document
	switch format {
	case tasksource.FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse task state yaml: %w", err)
		}
	default:
		if err := jsonsafe.Check(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse task state json: %w", err)
		}
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]Entry{}
	}
	return doc.Tasks, nil
}

// saveDocument writes doc atomically: a temp file followed by rename.
func saveDocument(path string, format tasksource.Format, doc document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create task state dir: %w", err)
	}

	var data []byte
	var err error
	switch format {
	case tasksource.FormatYAML:
		data, err = yaml.Marshal(doc)
	default:
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write task state: %w", err)
	}
	return nil
}
