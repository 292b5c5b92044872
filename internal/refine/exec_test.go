package refine

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecFit_RunsInWorkDir(t *testing.T) {
	requireShell(t)
	work := t.TempDir()
	logPath := filepath.Join(work, LogName)

	// $0 is the training set when it follows the -c script.
	fit := ExecFit{
		Command: "sh",
		Args:    []string{"-c", `echo "fit $0"; echo params > params.txt; printf 'rmsd = 0.75 kcal\na\nb\nc\n'`},
	}
	require.NoError(t, fit.Run(t.Context(), "/data/training.xyz", work, logPath))

	_, err := os.Stat(filepath.Join(work, "params.txt"))
	assert.NoError(t, err)
	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "fit /data/training.xyz")

	rmsd, err := ParseRMSD(logPath, DefaultLineFromEnd, DefaultField)
	require.NoError(t, err)
	assert.Equal(t, 0.75, rmsd)
}

func TestExecFit_NonZeroExit(t *testing.T) {
	requireShell(t)
	work := t.TempDir()
	fit := ExecFit{Command: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}}

	err := fit.Run(t.Context(), "ts.xyz", work, filepath.Join(work, LogName))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")

	b, err := os.ReadFile(filepath.Join(work, LogName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "boom")
}

func TestExecFit_RequiresCommand(t *testing.T) {
	work := t.TempDir()
	err := ExecFit{}.Run(t.Context(), "ts.xyz", work, filepath.Join(work, LogName))
	assert.Error(t, err)
}
