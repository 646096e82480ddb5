package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingTAP = `printf 'TAP version 13\nok 1 - a\n1..1\n'`
const failingTAP = `printf 'TAP version 13\nnot ok 1 - a\n1..1\n'; exit 1`

func TestRunFileParsesTAP(t *testing.T) {
	r := runFile(context.Background(), passingTAP)
	require.NoError(t, r.Err)
	require.NotNil(t, r.Run)
	assert.True(t, r.Ok())
	assert.Equal(t, 1, r.Run.Counts().Pass)
	assert.Contains(t, r.Raw, "ok 1 - a")
}

func TestRunFileFailure(t *testing.T) {
	r := runFile(context.Background(), failingTAP)
	require.NoError(t, r.Err)
	assert.False(t, r.Ok())
	assert.Equal(t, 1, r.ExitCode)
	assert.Equal(t, 1, r.Run.Counts().Fail)
}

func TestRunFileMissingBinary(t *testing.T) {
	r := runFile(context.Background(), "/does/not/exist-binary")
	// the shell reports the missing binary through its exit code
	assert.False(t, r.Ok())
}

func TestRunSequentialBail(t *testing.T) {
	s := runSettings{bail: true}
	results := runSequential(context.Background(), []string{failingTAP, passingTAP}, s)
	assert.Len(t, results, 1)
}

func TestRunSequentialContinuesWithoutBail(t *testing.T) {
	s := runSettings{}
	results := runSequential(context.Background(), []string{failingTAP, passingTAP}, s)
	require.Len(t, results, 2)
	assert.False(t, results[0].Ok())
	assert.True(t, results[1].Ok())
}

func TestRunParallelKeepsOrder(t *testing.T) {
	s := runSettings{concurrency: 2}
	commands := []string{passingTAP + " # first", passingTAP + " # second", passingTAP + " # third"}
	results := runParallel(context.Background(), commands, s)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, commands[i], r.Path)
		assert.True(t, r.Ok())
	}
}
