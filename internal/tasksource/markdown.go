package tasksource

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	mdPendingRe  = regexp.MustCompile(`^- \[ \] (.+)$`)
	mdCompleteRe = regexp.MustCompile(`(?i)^- \[x\] (.+)$`)
)

// ParseMarkdown scans lines matching "- [ ] text" (pending) or "- [x] text"
// (complete, case-insensitive). The 1-based line number is the task id.
func ParseMarkdown(data []byte) ([]Task, error) {
	var tasks []Task
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if m := mdCompleteRe.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, Task{ID: strconv.Itoa(lineNo), Title: m[1], Completed: true})
			continue
		}
		if m := mdPendingRe.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, Task{ID: strconv.Itoa(lineNo), Title: m[1], Completed: false})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan markdown: %w", err)
	}
	return tasks, nil
}

// WriteMarkdown renders tasks back into "- [ ] "/"- [x] " checklist lines,
// one per task in order.
func WriteMarkdown(tasks []Task) ([]byte, error) {
	var b strings.Builder
	for i, t := range tasks {
		box := " "
		if t.Completed {
			box = "x"
		}
		b.WriteString(fmt.Sprintf("- [%s] %s", box, t.Title))
		if i < len(tasks)-1 {
			b.WriteString("\n")
		}
	}
	return []byte(b.String()), nil
}

// MarkComplete flips the checklist box for the task at the given 1-based
// line id to complete, leaving every other line untouched.
func MarkComplete(data []byte, id string) ([]byte, error) {
	return setCompleted(data, id, true)
}

// MarkPending flips the checklist box for the task at the given 1-based
// line id back to pending.
func MarkPending(data []byte, id string) ([]byte, error) {
	return setCompleted(data, id, false)
}

func setCompleted(data []byte, id string, completed bool) ([]byte, error) {
	target, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("markdown task id must be a line number: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	if target < 1 || target > len(lines) {
		return nil, fmt.Errorf("no markdown line %d", target)
	}

	line := lines[target-1]
	var m []string
	if m = mdCompleteRe.FindStringSubmatch(line); m == nil {
		m = mdPendingRe.FindStringSubmatch(line)
	}
	if m == nil {
		return nil, fmt.Errorf("line %d is not a checklist item", target)
	}

	box := " "
	if completed {
		box = "x"
	}
	lines[target-1] = fmt.Sprintf("- [%s] %s", box, m[1])
	return []byte(strings.Join(lines, "\n")), nil
}

// CountRemaining reports how many pending items remain.
func CountRemaining(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if !t.Completed {
			n++
		}
	}
	return n
}

// CountCompleted reports how many items are complete.
func CountCompleted(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Completed {
			n++
		}
	}
	return n
}
