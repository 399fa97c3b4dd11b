package tasksource

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

type yamlTask struct {
	Title         string `yaml:"title"`
	Completed     bool   `yaml:"completed,omitempty"`
	ParallelGroup int    `yaml:"parallel_group,omitempty"`
	Description   string `yaml:"description,omitempty"`
}

type yamlDocument struct {
	Tasks []yamlTask `yaml:"tasks"`
}

// ParseYAML parses the top-level {tasks: [{title, completed?,
// parallel_group?, description?}]} document. Id is the 1-based index when
// absent, since the format carries no identity field of its own.
func ParseYAML(data []byte) ([]Task, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	tasks := make([]Task, 0, len(doc.Tasks))
	for i, yt := range doc.Tasks {
		tasks = append(tasks, Task{
			ID:            strconv.Itoa(i + 1),
			Title:         yt.Title,
			Body:          yt.Description,
			ParallelGroup: yt.ParallelGroup,
			Completed:     yt.Completed,
		})
	}
	return tasks, nil
}

// WriteYAML serializes tasks into the {tasks: [...]} document shape.
func WriteYAML(tasks []Task) ([]byte, error) {
	doc := yamlDocument{Tasks: make([]yamlTask, 0, len(tasks))}
	for _, t := range tasks {
		doc.Tasks = append(doc.Tasks, yamlTask{
			Title:         t.Title,
			Completed:     t.Completed,
			ParallelGroup: t.ParallelGroup,
			Description:   t.Body,
		})
	}
	return yaml.Marshal(doc)
}
