package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/tapworks/tapestry/packages/tap"
)

// ConsoleFormatter renders human-readable colored results.
type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	quiet   bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func WithQuiet(q bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.quiet = q
	}
}

var (
	passMark = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	skipMark = color.New(color.FgYellow).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
)

func (f *ConsoleFormatter) FormatResult(result *FileResult) {
	if f.quiet && result.Ok() {
		return
	}

	if result.Err != nil {
		fmt.Fprintf(f.writer, "%s %s %s\n", failMark("✗"), result.Path, dimText(result.Err.Error()))
		return
	}

	mark := passMark("✓")
	if !result.Ok() {
		mark = failMark("✗")
	}
	counts := result.Counts()
	fmt.Fprintf(f.writer, "%s %s %s\n", mark, result.Path,
		dimText(fmt.Sprintf("(%d tests in %s)", counts.Total(), formatDuration(result.Duration))))

	for _, res := range result.Run.Results {
		f.formatTest(res, 1)
	}
}

func (f *ConsoleFormatter) formatTest(res *tap.Result, depth int) {
	show := f.verbose || !res.Passed()
	pad := strings.Repeat("  ", depth)

	if show {
		switch {
		case res.Directive == tap.DirectiveSkip:
			fmt.Fprintf(f.writer, "%s%s %s %s\n", pad, skipMark("-"), res.Name, dimText("skipped "+res.Reason))
		case res.Directive == tap.DirectiveTodo:
			fmt.Fprintf(f.writer, "%s%s %s %s\n", pad, skipMark("~"), res.Name, dimText("todo "+res.Reason))
		case res.Ok:
			fmt.Fprintf(f.writer, "%s%s %s\n", pad, passMark("✓"), res.Name)
		default:
			fmt.Fprintf(f.writer, "%s%s %s\n", pad, failMark("✗"), res.Name)
			if res.Failure != "" {
				fmt.Fprintf(f.writer, "%s  %s\n", pad, failMark(res.Failure))
			}
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintf(f.writer, "%s  %s\n", pad, dimText("# "+d))
		}
	}

	for _, child := range res.Children {
		f.formatTest(child, depth+1)
	}
}

func (f *ConsoleFormatter) Flush(summary *Summary) error {
	if f.quiet && summary.Failed == 0 {
		return nil
	}

	fmt.Fprintln(f.writer)
	c := summary.Counts
	parts := []string{fmt.Sprintf("%s passed", passMark(c.Pass))}
	if c.Fail > 0 {
		parts = append(parts, fmt.Sprintf("%s failed", failMark(c.Fail)))
	}
	if c.Skip > 0 {
		parts = append(parts, fmt.Sprintf("%s skipped", skipMark(c.Skip)))
	}
	if c.Todo > 0 {
		parts = append(parts, fmt.Sprintf("%s todo", skipMark(c.Todo)))
	}
	fmt.Fprintf(f.writer, "%s %s\n", strings.Join(parts, ", "),
		dimText(fmt.Sprintf("(%d files in %s)", summary.Files, formatDuration(summary.Duration))))

	if summary.Stats.Count > 1 {
		fmt.Fprintf(f.writer, "%s\n", dimText(fmt.Sprintf(
			"file times: p50 %s, p95 %s, max %s",
			formatDuration(summary.Stats.P50),
			formatDuration(summary.Stats.P95),
			formatDuration(summary.Stats.Max))))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}
