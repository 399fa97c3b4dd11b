package tasksource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	cases := map[string]Format{
		"tasks.csv":      FormatCSV,
		"tasks.yaml":     FormatYAML,
		"tasks.yml":      FormatYAML,
		"tasks.json":     FormatJSON,
		"TASKS.MD":       FormatMarkdown,
		"tasks.markdown": FormatMarkdown,
	}
	for path, want := range cases {
		got, err := DetectFormat(path)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := DetectFormat("tasks.txt")
	require.Error(t, err)
}

// TestCSVRoundTrip verifies parsing then re-serializing yields
// byte-identical output modulo trailing newline.
func TestCSVRoundTrip(t *testing.T) {
	t.Parallel()
	input := "id,title,done,group,desc\n1,Add login,0,1,Use OAuth\n2,\"Fix, bug\",1,0,\n"

	tasks, err := ParseCSV([]byte(input))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, Task{ID: "1", Title: "Add login", Body: "Use OAuth", ParallelGroup: 1, Completed: false}, tasks[0])
	require.Equal(t, Task{ID: "2", Title: "Fix, bug", Body: "", ParallelGroup: 0, Completed: true}, tasks[1])

	out, err := WriteCSV(tasks)
	require.NoError(t, err)
	require.Equal(t, input, string(out))
}

func TestYAMLParse(t *testing.T) {
	t.Parallel()
	input := `tasks:
  - title: Add login
    parallel_group: 1
    description: Use OAuth
  - title: Fix bug
    completed: true
`
	tasks, err := ParseYAML([]byte(input))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "1", tasks[0].ID)
	require.Equal(t, "2", tasks[1].ID)
	require.True(t, tasks[1].Completed)
}

func TestYAMLRoundTrip(t *testing.T) {
	t.Parallel()
	tasks := []Task{
		{ID: "1", Title: "A", Body: "desc", ParallelGroup: 2, Completed: false},
		{ID: "2", Title: "B", Completed: true},
	}
	data, err := WriteYAML(tasks)
	require.NoError(t, err)
	got, err := ParseYAML(data)
	require.NoError(t, err)
	for i := range got {
		require.Equal(t, tasks[i].Title, got[i].Title)
		require.Equal(t, tasks[i].Body, got[i].Body)
		require.Equal(t, tasks[i].ParallelGroup, got[i].ParallelGroup)
		require.Equal(t, tasks[i].Completed, got[i].Completed)
	}
}

func TestJSONArrayAndWrapped(t *testing.T) {
	t.Parallel()

	arr := `[{"title":"A","parallel_group":3},{"title":"B","completed":true,"description":"d"}]`
	tasks, err := ParseJSON([]byte(arr))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, 3, tasks[0].ParallelGroup)
	require.Equal(t, "d", tasks[1].Body)

	wrapped := `{"tasks":[{"id":"x1","title":"A","parallelGroup":4,"body":"b"}]}`
	tasks, err = ParseJSON([]byte(wrapped))
	require.NoError(t, err)
	require.Equal(t, "x1", tasks[0].ID)
	require.Equal(t, 4, tasks[0].ParallelGroup)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	tasks := []Task{{ID: "1", Title: "A", Body: "d", ParallelGroup: 1, Completed: true}}
	data, err := WriteJSON(tasks)
	require.NoError(t, err)
	got, err := ParseJSON(data)
	require.NoError(t, err)
	require.Equal(t, tasks, got)
}

// TestMarkdownProgression verifies checklist items move from unchecked to
// checked as tasks complete.
func TestMarkdownProgression(t *testing.T) {
	t.Parallel()
	input := "- [ ] A\n- [ ] B"

	out, err := MarkComplete([]byte(input), "1")
	require.NoError(t, err)
	require.Equal(t, "- [x] A\n- [ ] B", string(out))

	tasks, err := ParseMarkdown(out)
	require.NoError(t, err)
	require.Equal(t, 1, CountRemaining(tasks))
	require.Equal(t, 1, CountCompleted(tasks))
}

func TestMarkdownRoundTrip(t *testing.T) {
	t.Parallel()
	tasks := []Task{{ID: "1", Title: "A"}, {ID: "2", Title: "B", Completed: true}}
	out, err := WriteMarkdown(tasks)
	require.NoError(t, err)
	require.Equal(t, "- [ ] A\n- [x] B", string(out))

	got, err := ParseMarkdown(out)
	require.NoError(t, err)
	require.Equal(t, tasks, got)
}
