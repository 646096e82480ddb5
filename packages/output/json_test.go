package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapworks/tapestry/packages/tap"
)

func TestBuildReportCounts(t *testing.T) {
	results := []*FileResult{passingFile(), failingFile()}
	summary := &Summary{
		Files:    2,
		Failed:   1,
		Counts:   tap.Counts{Pass: 1, Fail: 1},
		Duration: 250 * time.Millisecond,
	}

	rep := BuildReport(results, summary)
	require.Len(t, rep.Files, 2)
	assert.Equal(t, 2, rep.Stats.Files)
	assert.Equal(t, 1, rep.Stats.Passed)
	assert.Equal(t, 1, rep.Stats.Failed)
	assert.True(t, rep.Files[0].Ok)
	assert.False(t, rep.Files[1].Ok)
	assert.Equal(t, "exploded", rep.Files[1].Tests[0].Failure)
}

func TestJSONFormatterOutput(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatResult(passingFile())
	require.NoError(t, f.Flush(&Summary{Files: 1, Counts: tap.Counts{Pass: 1}}))

	var rep Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	require.Len(t, rep.Files, 1)
	assert.Equal(t, "./bin/ok.test", rep.Files[0].Path)
}

func TestQuery(t *testing.T) {
	rep := BuildReport([]*FileResult{failingFile()}, &Summary{
		Files:  1,
		Failed: 1,
		Counts: tap.Counts{Fail: 1},
	})
	data, err := json.Marshal(rep)
	require.NoError(t, err)

	failed, err := Query(string(data), "stats.failed")
	require.NoError(t, err)
	assert.Equal(t, "1", failed)

	name, err := Query(string(data), "files.0.tests.0.name")
	require.NoError(t, err)
	assert.Equal(t, "breaks", name)

	_, err = Query(string(data), "no.such.path")
	assert.Error(t, err)

	_, err = Query("not json", "x")
	assert.Error(t, err)
}

func TestTAPPassthrough(t *testing.T) {
	var buf bytes.Buffer
	f := NewTAPFormatter(TAPWithWriter(&buf))

	raw := "TAP version 13\nok 1 - a\n1..1\n"
	f.FormatResult(&FileResult{Path: "x.test", Raw: raw})
	require.NoError(t, f.Flush(&Summary{Files: 1}))

	assert.Contains(t, buf.String(), "# x.test\n")
	assert.Contains(t, buf.String(), raw)
}
