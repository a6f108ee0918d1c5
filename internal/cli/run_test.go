package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/pkg/types"
)

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, outcomeErr(&types.RunOutcome{Status: types.OutcomeClean}))

	// Parity warnings surface as a sentinel so deferred teardown still runs
	// before main maps it to an exit code.
	err := outcomeErr(&types.RunOutcome{Status: types.OutcomeParityWarning})
	require.ErrorIs(t, err, ErrParityWarning)
}

func TestRunCommand_CleanRun(t *testing.T) {
	dir := t.TempDir()

	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"run", "--data-dir", dir, "--task", "recon-cli-test"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "succeeded-clean")
}
