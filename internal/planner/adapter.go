package planner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/VX1D/ralphy/internal/cmdrunner"
	"github.com/VX1D/ralphy/internal/engineevents"
	"github.com/VX1D/ralphy/internal/ralphyerr"
	"github.com/VX1D/ralphy/internal/retry"
	"github.com/VX1D/ralphy/internal/tasksource"
)

const defaultMaxReplans = 3

// connectionBackoffBase/Cap give the engine-invocation retry a 2s/4s/8s
// schedule capped at 10s, reproduced via retry.WithRetry's exponential
// backoff (base 2s, multiplier 2) rather than a hand-rolled schedule.
const (
	connectionBackoffBase = 2 * time.Second
	connectionBackoffCap  = 10 * time.Second
)

// ProgressEvent is one planning lifecycle notification.
type ProgressEvent struct {
	Phase  string // started, thinking, analyzing, planning, completed, failed
	Reward *float64
}

// ProgressFunc receives planning lifecycle notifications; may be nil.
type ProgressFunc func(ProgressEvent)

// Adapter drives an engine subprocess through the planning workflow. It
// never writes files; the returned Plan.Files is advisory only.
type Adapter struct {
	runner     *cmdrunner.Runner
	logger     hclog.Logger
	engineCmd  string
	engineArgs []string
	maxReplans int

	// breaker gates engine-invocation retries across every planning round
	// this Adapter drives. Each Adapter constructs its own breaker; it is
	// not shared with other Adapters or other retry callers.
	breaker *retry.CircuitBreaker
}

// NewAdapter constructs an Adapter that invokes engineCmd/engineArgs for
// each planning round.
func NewAdapter(runner *cmdrunner.Runner, logger hclog.Logger, engineCmd string, engineArgs []string) *Adapter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Adapter{
		runner:     runner,
		logger:     logger.Named("planner"),
		engineCmd:  engineCmd,
		engineArgs: engineArgs,
		maxReplans: defaultMaxReplans,
		breaker:    retry.NewCircuitBreaker(),
	}
}

// BuildPrompt composes the planning prompt for task, requesting the four
// tagged sections.
func BuildPrompt(task tasksource.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are planning the implementation of the following task.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	if task.Body != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Body)
	}
	b.WriteString("\nRespond with exactly these four tagged sections:\n")
	b.WriteString("<ANALYSIS>your understanding of the task and the relevant code</ANALYSIS>\n")
	b.WriteString("<PLAN>a numbered or bulleted list of implementation steps</PLAN>\n")
	b.WriteString("<FILES>one file path per line that this task will touch</FILES>\n")
	b.WriteString("<OPTIMIZATION>any efficiency or ordering notes</OPTIMIZATION>\n")
	return b.String()
}

// Plan runs the planning workflow for task in cwd, re-planning on malformed
// output up to a.maxReplans times. progress, if non-nil, is notified of
// lifecycle events.
func (a *Adapter) Plan(ctx context.Context, task tasksource.Task, cwd string, progress ProgressFunc) (*Plan, error) {
	notify(progress, "started", nil)

	prompt := BuildPrompt(task)

	for attempt := 0; attempt <= a.maxReplans; attempt++ {
		notify(progress, "thinking", nil)

		var raw string
		err := retry.WithRetry(ctx, retry.Options{
			BaseDelay:  connectionBackoffBase,
			MaxDelay:   connectionBackoffCap,
			MaxRetries: a.maxReplans,
			Breaker:    a.breaker,
		}, func(ctx context.Context) error {
			r, ierr := a.invoke(ctx, prompt, cwd, progress)
			if ierr != nil {
				return ierr
			}
			raw = r
			return nil
		})
		if err != nil {
			notify(progress, "failed", nil)
			return nil, err
		}

		if IsMalformed(raw) {
			a.logger.Warn("planning output looked like a raw tool invocation, re-planning", "attempt", attempt+1)
			notify(progress, "failed", nil)
			continue
		}

		notify(progress, "analyzing", nil)
		notify(progress, "planning", nil)
		plan := ParseResponse(raw)
		notify(progress, "completed", nil)
		return plan, nil
	}

	msg := fmt.Sprintf("Planning failed: exceeded %d re-plan attempts, engine kept returning raw tool invocations", a.maxReplans)
	notify(progress, "failed", nil)
	return &Plan{Files: []string{}, Error: msg}, nil
}

// invoke drives the engine once, streaming if it emits line-delimited
// events and falling back to the batch stdout otherwise. Streaming
// progress (reward extraction) is reported through progress.
func (a *Adapter) invoke(ctx context.Context, prompt, cwd string, progress ProgressFunc) (string, error) {
	var out strings.Builder
	result, err := a.runner.ExecStreaming(ctx, a.engineCmd, a.engineArgs, cwd, func(line string) {
		if ev := engineevents.ParseLine(line); ev != nil && ev.Event != nil {
			switch ev.Event.Type {
			case engineevents.TypeText:
				out.WriteString(ev.Event.Text)
				extractReward(ev.Event.Text, progress)
			case engineevents.TypeError:
				out.WriteString(ev.Event.Message)
			default:
				// step_start/step_finish/tool_use/result carry no plan
				// text of their own; their raw JSON is preserved so a
				// tool_use short-circuit is still visible to IsMalformed.
				out.Write(ev.Event.Raw)
			}
			out.WriteString("\n")
			if ev.Remaining != "" {
				out.WriteString(ev.Remaining)
				out.WriteString("\n")
			}
			return
		}
		out.WriteString(line)
		out.WriteString("\n")
		extractReward(line, progress)
	}, nil, prompt)
	if err != nil {
		code := ralphyerr.ClassifyMessage(err.Error(), ralphyerr.CodeProcess)
		return "", ralphyerr.New(code, fmt.Sprintf("engine invocation failed: %v", err), map[string]any{"cause": err})
	}
	if result.ExitCode != 0 && out.Len() == 0 {
		msg := fmt.Sprintf("engine exited %d with no output", result.ExitCode)
		code := ralphyerr.ClassifyMessage(out.String()+msg, ralphyerr.CodeProcess)
		return "", ralphyerr.New(code, msg, nil)
	}
	return out.String(), nil
}

var rewardRe = regexp.MustCompile(`reward:\s*(-?\d+(?:\.\d+)?)`)

func extractReward(text string, progress ProgressFunc) {
	if progress == nil {
		return
	}
	m := rewardRe.FindStringSubmatch(text)
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}
	progress(ProgressEvent{Phase: "thinking", Reward: &v})
}

func notify(progress ProgressFunc, phase string, reward *float64) {
	if progress == nil {
		return
	}
	progress(ProgressEvent{Phase: phase, Reward: reward})
}
