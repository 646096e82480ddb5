package output

import (
	"fmt"
	"io"
	"os"
)

// TAPFormatter relays each file's raw TAP stream unmodified, prefixed with a
// comment naming the file. Useful for piping into other TAP consumers.
type TAPFormatter struct {
	writer io.Writer
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatResult(result *FileResult) {
	fmt.Fprintf(f.writer, "# %s\n", result.Path)
	if result.Err != nil {
		fmt.Fprintf(f.writer, "Bail out! %s\n", result.Err.Error())
		return
	}
	fmt.Fprint(f.writer, result.Raw)
}

func (f *TAPFormatter) Flush(summary *Summary) error {
	return nil
}
