package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"

	"github.com/tapworks/tapestry/packages/tap"
)

// Report is the machine-readable form of a whole CLI invocation, also the
// document stored in run history.
type Report struct {
	Files   []*FileReport `json:"files"`
	Stats   ReportStats   `json:"stats"`
	Elapsed float64       `json:"elapsedMs"`
}

// FileReport is one test binary's outcome.
type FileReport struct {
	Path      string        `json:"path"`
	Ok        bool          `json:"ok"`
	ExitCode  int           `json:"exitCode"`
	ElapsedMs float64       `json:"elapsedMs"`
	Error     string        `json:"error,omitempty"`
	Tests     []*TestReport `json:"tests,omitempty"`
}

// TestReport mirrors one TAP result.
type TestReport struct {
	Name        string        `json:"name"`
	Ok          bool          `json:"ok"`
	Skip        bool          `json:"skip,omitempty"`
	Todo        bool          `json:"todo,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Failure     string        `json:"failure,omitempty"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
	Subtests    []*TestReport `json:"subtests,omitempty"`
}

// ReportStats are deep counts across every file.
type ReportStats struct {
	Files   int `json:"files"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Todo    int `json:"todo"`
}

// BuildReport assembles a Report from file results.
func BuildReport(results []*FileResult, summary *Summary) *Report {
	rep := &Report{
		Elapsed: float64(summary.Duration.Milliseconds()),
		Stats: ReportStats{
			Files:   summary.Files,
			Passed:  summary.Counts.Pass,
			Failed:  summary.Counts.Fail,
			Skipped: summary.Counts.Skip,
			Todo:    summary.Counts.Todo,
		},
	}
	for _, r := range results {
		fr := &FileReport{
			Path:      r.Path,
			Ok:        r.Ok(),
			ExitCode:  r.ExitCode,
			ElapsedMs: float64(r.Duration.Milliseconds()),
		}
		if r.Err != nil {
			fr.Error = r.Err.Error()
		}
		if r.Run != nil {
			for _, res := range r.Run.Results {
				fr.Tests = append(fr.Tests, toTestReport(res))
			}
		}
		rep.Files = append(rep.Files, fr)
	}
	return rep
}

func toTestReport(res *tap.Result) *TestReport {
	tr := &TestReport{
		Name:        res.Name,
		Ok:          res.Ok,
		Skip:        res.Directive == tap.DirectiveSkip,
		Todo:        res.Directive == tap.DirectiveTodo,
		Reason:      res.Reason,
		Failure:     res.Failure,
		Diagnostics: res.Diagnostics,
	}
	for _, child := range res.Children {
		tr.Subtests = append(tr.Subtests, toTestReport(child))
	}
	return tr
}

// Query extracts a value from a JSON report using a gjson path, e.g.
// "stats.failed" or "files.0.tests.#.name".
func Query(reportJSON, path string) (string, error) {
	if !gjson.Valid(reportJSON) {
		return "", fmt.Errorf("stored report is not valid JSON")
	}
	value := gjson.Get(reportJSON, path)
	if !value.Exists() {
		return "", fmt.Errorf("no value at path %q", path)
	}
	return value.String(), nil
}

// JSONFormatter accumulates results and writes one Report document on Flush.
type JSONFormatter struct {
	writer  io.Writer
	results []*FileResult
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *FileResult) {
	f.results = append(f.results, result)
}

func (f *JSONFormatter) Flush(summary *Summary) error {
	data, err := json.MarshalIndent(BuildReport(f.results, summary), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = fmt.Fprintln(f.writer, string(data))
	return err
}
