package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureArgs(output string) []string {
	dir := filepath.Join("..", "..", "internal", "features", "testdata")
	return []string{
		"--activity", filepath.Join(dir, "activity_tracker_dataset.csv"),
		"--leave", filepath.Join(dir, "leave_dataset.csv"),
		"--onboarding", filepath.Join(dir, "onboarding_dataset.csv"),
		"--performance", filepath.Join(dir, "performance_dataset.csv"),
		"--rewards", filepath.Join(dir, "rewards_dataset.csv"),
		"--vibemeter", filepath.Join(dir, "vibemeter_dataset.csv"),
		"--output", output,
		"--log-level", "error",
	}
}

func TestRun_WritesMasterTable(t *testing.T) {
	out := filepath.Join(t.TempDir(), "master_df.csv")
	var stderr bytes.Buffer

	require.Equal(t, 0, run(fixtureArgs(out), &stderr), stderr.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "Employee_ID,"))
	assert.Len(t, lines, 6, "header plus five employees")
}

func TestRun_MissingFlag(t *testing.T) {
	out := filepath.Join(t.TempDir(), "master_df.csv")
	args := fixtureArgs(out)
	// drop --rewards
	args = append(args[:8:8], args[10:]...)

	var stderr bytes.Buffer
	assert.Equal(t, 2, run(args, &stderr))
	assert.Contains(t, stderr.String(), "no path given for source")
	assert.NoFileExists(t, out)
}

func TestRun_MissingInputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "master_df.csv")
	args := fixtureArgs(out)
	args[1] = filepath.Join(t.TempDir(), "absent.csv")

	var stderr bytes.Buffer
	assert.Equal(t, 1, run(args, &stderr))
	assert.NoFileExists(t, out)
}
