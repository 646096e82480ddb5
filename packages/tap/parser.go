package tap

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Run is a parsed TAP document.
type Run struct {
	Version     int
	Plan        int // -1 when the document carried no root plan
	Results     []*Result
	Diagnostics []string // root-level comments not owned by a result
	Bailout     string
}

// Counts tallies every result in the run, nested ones included.
func (r *Run) Counts() Counts {
	var c Counts
	for _, res := range r.Results {
		c.Add(res.Count())
	}
	return c
}

// Ok reports whether the run passed: every result ok, skipped, or todo, a
// plan consistent with the result count, and no bailout.
func (r *Run) Ok() bool {
	if r.Bailout != "" {
		return false
	}
	if r.Plan >= 0 && r.Plan != len(r.Results) {
		return false
	}
	return r.Counts().Fail == 0
}

var resultRe = regexp.MustCompile(`^(not )?ok\b\s*(\d+)?\s*(.*)$`)

// Parse reads a TAP version 13 document. Nested scopes are recognised by
// two-space indentation; a scope's result lines precede its parent's result
// line, matching the Emitter's layout.
func Parse(r io.Reader) (*Run, error) {
	run := &Run{Plan: -1}

	// completed[d] holds results finished at depth d, waiting for their
	// parent's result line at depth d-1. last[d] is the most recent result
	// at depth d, the owner of subsequent comment lines.
	completed := make(map[int][]*Result)
	last := make(map[int]*Result)

	var yamlOwner *Result
	var yamlLines []string
	yamlDepth := -1

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Text()
		trimmed := strings.TrimLeft(raw, " ")
		if trimmed == "" {
			continue
		}
		depth := (len(raw) - len(trimmed)) / 2

		// Inside a YAML detail block everything up to the closing marker
		// belongs to the block.
		if yamlDepth >= 0 {
			if trimmed == "..." && depth == yamlDepth {
				if yamlOwner != nil {
					yamlOwner.Failure = yamlMessage(yamlLines)
				}
				yamlDepth = -1
				yamlLines = nil
				yamlOwner = nil
			} else {
				yamlLines = append(yamlLines, trimmed)
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "TAP version"):
			v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "TAP version")))
			if err != nil {
				return nil, fmt.Errorf("malformed version line %q", trimmed)
			}
			run.Version = v

		case strings.HasPrefix(trimmed, "Bail out!"):
			run.Bailout = strings.TrimSpace(strings.TrimPrefix(trimmed, "Bail out!"))

		case strings.HasPrefix(trimmed, "1..") && depth == 0:
			n, err := strconv.Atoi(trimmed[3:])
			if err != nil {
				return nil, fmt.Errorf("malformed plan line %q", trimmed)
			}
			run.Plan = n

		case strings.HasPrefix(trimmed, "1.."):
			// nested scope plan, implied by the child count

		case strings.HasPrefix(trimmed, "---"):
			yamlDepth = depth
			yamlOwner = last[depth-1]

		case strings.HasPrefix(trimmed, "#"):
			msg := strings.TrimPrefix(strings.TrimPrefix(trimmed, "#"), " ")
			if owner := last[depth]; owner != nil {
				owner.Diagnostics = append(owner.Diagnostics, msg)
			} else if depth == 0 {
				run.Diagnostics = append(run.Diagnostics, msg)
			}

		default:
			m := resultRe.FindStringSubmatch(trimmed)
			if m == nil {
				// unknown line, tolerated per TAP
				continue
			}
			res := parseResult(m)
			res.Children = completed[depth+1]
			completed[depth+1] = nil
			delete(last, depth+1)
			completed[depth] = append(completed[depth], res)
			last[depth] = res
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TAP stream: %w", err)
	}

	run.Results = completed[0]
	return run, nil
}

func parseResult(m []string) *Result {
	res := &Result{Ok: m[1] == ""}

	desc := strings.TrimSpace(m[3])
	desc = strings.TrimPrefix(desc, "- ")
	desc, directive, reason := splitDirective(desc)

	res.Name = strings.ReplaceAll(strings.TrimSpace(desc), `\#`, "#")
	res.Directive = directive
	res.Reason = reason
	return res
}

// splitDirective separates an unescaped "# SKIP ..." / "# TODO ..." suffix
// from the description.
func splitDirective(s string) (string, Directive, string) {
	for i := 0; i < len(s); i++ {
		if s[i] != '#' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		rest := strings.TrimSpace(s[i+1:])
		upper := strings.ToUpper(rest)
		switch {
		case strings.HasPrefix(upper, "SKIP"):
			return s[:i], DirectiveSkip, strings.TrimSpace(rest[4:])
		case strings.HasPrefix(upper, "TODO"):
			return s[:i], DirectiveTodo, strings.TrimSpace(rest[4:])
		}
	}
	return s, DirectiveNone, ""
}

func yamlMessage(lines []string) string {
	for _, line := range lines {
		if strings.HasPrefix(line, "message:") {
			msg := strings.TrimSpace(strings.TrimPrefix(line, "message:"))
			return strings.Trim(msg, `"'`)
		}
	}
	return strings.Join(lines, "\n")
}
