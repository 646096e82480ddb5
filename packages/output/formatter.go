package output

import (
	"time"

	"github.com/tapworks/tapestry/packages/metrics"
	"github.com/tapworks/tapestry/packages/tap"
)

// FileResult is the outcome of running one TAP-producing test binary.
type FileResult struct {
	Path     string
	Run      *tap.Run
	Duration time.Duration
	ExitCode int
	Err      error // launch or parse failure; Run is nil in that case
	Raw      string
}

// Ok reports whether the file's run passed.
func (f *FileResult) Ok() bool {
	return f.Err == nil && f.ExitCode == 0 && f.Run != nil && f.Run.Ok()
}

// Counts tallies the file's results; zero when the run never parsed.
func (f *FileResult) Counts() tap.Counts {
	if f.Run == nil {
		return tap.Counts{}
	}
	return f.Run.Counts()
}

// Summary aggregates a whole CLI invocation.
type Summary struct {
	Files    int
	Failed   int // files that failed
	Counts   tap.Counts
	Duration time.Duration
	Stats    metrics.Snapshot
}

// Formatter renders file results as they complete and a final summary.
type Formatter interface {
	FormatResult(result *FileResult)
	Flush(summary *Summary) error
}
