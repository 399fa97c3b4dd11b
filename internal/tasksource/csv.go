package tasksource

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var csvHeader = []string{"id", "title", "done", "group", "desc"}

// ParseCSV parses the header row "id,title,done,group,desc". done accepts
// 0/1/true/false case-insensitively; missing fields default to empty/0.
func ParseCSV(data []byte) ([]Task, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var tasks []Task
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		done := strings.ToLower(strings.TrimSpace(field(rec, "done")))
		completed := done == "1" || done == "true"

		group, _ := strconv.Atoi(strings.TrimSpace(field(rec, "group")))

		tasks = append(tasks, Task{
			ID:            field(rec, "id"),
			Title:         field(rec, "title"),
			Body:          field(rec, "desc"),
			ParallelGroup: group,
			Completed:     completed,
		})
	}
	return tasks, nil
}

// WriteCSV serializes tasks back into the canonical "id,title,done,group,desc"
// form, quoting values that need it (encoding/csv quotes automatically,
// doubling inner quotes).
func WriteCSV(tasks []Task) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		done := "0"
		if t.Completed {
			done = "1"
		}
		rec := []string{t.ID, t.Title, done, strconv.Itoa(t.ParallelGroup), t.Body}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
