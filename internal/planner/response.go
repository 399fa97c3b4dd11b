// Package planner builds the planning prompt sent to an engine subprocess,
// drives the engine through the command runner, and parses its structured
// <ANALYSIS>/<PLAN>/<FILES>/<OPTIMIZATION> response into a concrete file
// list, re-planning transparently on malformed output.
package planner

import (
	"path"
	"regexp"
	"strings"
)

// Plan is the parsed result of a successful planning round.
type Plan struct {
	Analysis     string
	Steps        []string
	Files        []string
	Optimization string
	Error        string
}

var (
	analysisTagRe     = regexp.MustCompile(`(?s)<ANALYSIS>(.*?)</ANALYSIS>`)
	planTagRe         = regexp.MustCompile(`(?s)<PLAN>(.*?)</PLAN>`)
	filesTagRe        = regexp.MustCompile(`(?s)<FILES>(.*?)</FILES>`)
	optimizationTagRe = regexp.MustCompile(`(?s)<OPTIMIZATION>(.*?)</OPTIMIZATION>`)

	numberedStepRe = regexp.MustCompile(`^\s*\d+[.)]\s*(.+)$`)
	bulletStepRe   = regexp.MustCompile(`^\s*[-*]\s*(.+)$`)

	bulletFileRe    = regexp.MustCompile(`^\s*[-*]\s*`)
	numberedFileRe  = regexp.MustCompile(`^\s*\d+[.)]\s*`)
	backtickFileRe  = regexp.MustCompile("`")
)

// ParseResponse extracts ANALYSIS/PLAN/FILES/OPTIMIZATION sections from raw
// engine output. Missing sections yield zero values, not an error: only
// IsMalformed governs whether the caller should re-plan.
func ParseResponse(raw string) *Plan {
	p := &Plan{}
	if m := analysisTagRe.FindStringSubmatch(raw); m != nil {
		p.Analysis = strings.TrimSpace(m[1])
	}
	if m := planTagRe.FindStringSubmatch(raw); m != nil {
		p.Steps = parseSteps(m[1])
	}
	if m := filesTagRe.FindStringSubmatch(raw); m != nil {
		p.Files = parseFiles(m[1])
	}
	if m := optimizationTagRe.FindStringSubmatch(raw); m != nil {
		p.Optimization = strings.TrimSpace(m[1])
	}
	return p
}

func parseSteps(section string) []string {
	var steps []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedStepRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
			continue
		}
		if m := bulletStepRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
			continue
		}
		steps = append(steps, line)
	}
	return steps
}

// parseFiles extracts a deduplicated, order-preserving list of normalized
// relative paths from the FILES section: each non-empty, non-comment line
// has bullets/numbering/backticks/"./" stripped and separators normalized.
func parseFiles(section string) []string {
	seen := map[string]bool{}
	var files []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		line = bulletFileRe.ReplaceAllString(line, "")
		line = numberedFileRe.ReplaceAllString(line, "")
		line = backtickFileRe.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "./")
		line = normalizeSlashes(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		files = append(files, line)
	}
	return files
}

// normalizeSlashes converts backslashes to forward slashes before
// cleaning, since FILES entries are not guaranteed to reference the host
// OS (the engine may emit either style regardless of platform), unlike
// path/filepath's separator which is fixed per-build.
func normalizeSlashes(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// malformedPrefixRe detects the engine short-circuiting into a raw tool_use
// invocation instead of producing a structured plan.
var malformedPrefixRe = regexp.MustCompile(`^\s*\{\s*"type"\s*:\s*"tool_use"`)

// IsMalformed reports whether raw output should be treated as a failed
// planning round rather than parsed.
func IsMalformed(raw string) bool {
	return malformedPrefixRe.MatchString(raw)
}
