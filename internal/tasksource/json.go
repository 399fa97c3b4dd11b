package tasksource

import (
	"encoding/json"
	"fmt"
)

type jsonTask struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title"`
	Completed     bool   `json:"completed,omitempty"`
	ParallelGroup int    `json:"parallelGroup,omitempty"`
	Body          string `json:"body,omitempty"`

	// accepted on read only, as alternate spellings
	ParallelGroupSnake int    `json:"parallel_group,omitempty"`
	Description        string `json:"description,omitempty"`
}

func (jt jsonTask) group() int {
	if jt.ParallelGroup != 0 {
		return jt.ParallelGroup
	}
	return jt.ParallelGroupSnake
}

func (jt jsonTask) body() string {
	if jt.Body != "" {
		return jt.Body
	}
	return jt.Description
}

type jsonDocument struct {
	Tasks []jsonTask `json:"tasks"`
}

// ParseJSON parses either a bare array of task objects or {tasks: [...]}.
// Both parallel_group/parallelGroup and description/body spellings are
// accepted.
func ParseJSON(data []byte) ([]Task, error) {
	var raw []jsonTask
	if err := json.Unmarshal(data, &raw); err != nil {
		var doc jsonDocument
		if err2 := json.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("parse json task source: %w", err)
		}
		raw = doc.Tasks
	}

	tasks := make([]Task, 0, len(raw))
	for i, jt := range raw {
		id := jt.ID
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		tasks = append(tasks, Task{
			ID:            id,
			Title:         jt.Title,
			Body:          jt.body(),
			ParallelGroup: jt.group(),
			Completed:     jt.Completed,
		})
	}
	return tasks, nil
}

// WriteJSON serializes tasks as a {tasks: [...]} document.
func WriteJSON(tasks []Task) ([]byte, error) {
	doc := jsonDocument{Tasks: make([]jsonTask, 0, len(tasks))}
	for _, t := range tasks {
		doc.Tasks = append(doc.Tasks, jsonTask{
			ID:            t.ID,
			Title:         t.Title,
			Completed:     t.Completed,
			ParallelGroup: t.ParallelGroup,
			Body:          t.Body,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}
