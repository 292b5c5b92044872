package calc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/ir"
)

func dimerRequest(cp bool) Request {
	water := func(dx float64) ir.Fragment {
		return ir.Fragment{
			{Element: "O", X: dx},
			{Element: "H", X: dx + 0.757, Y: 0.586},
			{Element: "H", X: dx - 0.757, Y: 0.586},
		}
	}
	model := ir.Model{Method: "HF", Basis: "STO-3G", CP: cp}
	return Request{
		Key:      ir.RecordKey{ConfigurationID: "cfg-1", Model: model},
		Subset:   ir.Subset{1},
		Geometry: ir.Geometry{water(0), water(2.9)},
		Model:    model,
	}
}

func TestParseEnergy(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    float64
		wantErr error
	}{
		{"spaced", "setup\nenergy= -76.0123\ndone\n", -76.0123, nil},
		{"tight", "energy=-1.5\n", -1.5, nil},
		{"last wins", "energy= -1.0\nenergy= -2.0\n", -2.0, nil},
		{"inline", "!RHF STATE 1.1 energy=  -75.98 Eh\n", -75.98, nil},
		{"missing", "nothing here\n", 0, ErrEnergyNotFound},
		{"error marker", "energy= -1.0\n ? Error: SCF did not converge\n", 0, ErrOutputError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnergy(strings.NewReader(tt.output))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnergy_RejectsNonFinite(t *testing.T) {
	_, err := ParseEnergy(strings.NewReader("energy= NaN\n"))
	assert.Error(t, err)
	_, err = ParseEnergy(strings.NewReader("energy= garbage\n"))
	assert.Error(t, err)
}

func TestRequest_GhostsAndFragments(t *testing.T) {
	req := dimerRequest(true)
	req.Subset = ir.Subset{0}

	assert.Len(t, req.Fragments(), 1)
	ghosts := req.Ghosts()
	require.Len(t, ghosts, 3)
	assert.Equal(t, 2.9, ghosts[0].X)
}

func TestCalculatorError(t *testing.T) {
	err := error(&CalculatorError{LogRef: "logs/1.out", Err: ErrEnergyNotFound})
	wrapped := errors.Join(errors.New("context"), err)

	assert.ErrorIs(t, wrapped, ErrEnergyNotFound)
	assert.Equal(t, "logs/1.out", LogRef(wrapped))
	assert.Equal(t, "", LogRef(errors.New("plain")))
	assert.Contains(t, err.Error(), "logs/1.out")
}

func TestDefaultTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("default", DefaultInputTemplate)
	require.NoError(t, err)
	p := &Program{}

	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, p.templateData(dimerRequest(false))))
	out := buf.String()
	assert.Contains(t, out, "! HF STO-3G\n")
	assert.Contains(t, out, "O 2.9000000000 0.0000000000 0.0000000000\n")
	assert.NotContains(t, out, "@")
	assert.Equal(t, 3, strings.Count(out, "\nH ")+strings.Count(out, "\nO "))

	buf.Reset()
	require.NoError(t, tmpl.Execute(&buf, p.templateData(dimerRequest(true))))
	out = buf.String()
	assert.Contains(t, out, "counterpoise")
	assert.Contains(t, out, "@O 0.0000000000 0.0000000000 0.0000000000\n")
}

func TestProgram_Args(t *testing.T) {
	p := &Program{Args: []string{"-n", "4"}}
	assert.Equal(t, []string{"-n", "4", "in.inp"}, p.args("in.inp", "out.out"))

	p = &Program{Args: []string{"-i", "{input}", "-o", "{output}"}}
	assert.Equal(t, []string{"-i", "in.inp", "-o", "out.out"}, p.args("in.inp", "out.out"))
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestProgram_ComputeSuccess(t *testing.T) {
	sh := requireShell(t)
	work := t.TempDir()
	p := &Program{
		Command:   sh,
		Args:      []string{"-c", `grep -c '^[OH] ' "$1" >/dev/null && echo "energy= -76.25"`, "calc", "{input}"},
		WorkDir:   work,
		KeepFiles: true,
	}

	res, err := p.Compute(t.Context(), dimerRequest(false))
	require.NoError(t, err)
	assert.Equal(t, -76.25, res.Energy)
	assert.Equal(t, filepath.Join(work, "cfg-1", "HF_STO-3G", "2.out"), res.LogRef)

	input, err := os.ReadFile(filepath.Join(work, "cfg-1", "HF_STO-3G", "2.inp"))
	require.NoError(t, err)
	assert.Contains(t, string(input), "O 2.9000000000")
}

func TestProgram_ComputeSuccessArchivesLog(t *testing.T) {
	sh := requireShell(t)
	work := t.TempDir()
	arch, err := archive.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	p := &Program{
		Command: sh,
		Args:    []string{"-c", `echo "energy= -76.25"`, "calc", "{input}"},
		WorkDir: work,
		Archive: arch,
	}

	res, err := p.Compute(t.Context(), dimerRequest(false))
	require.NoError(t, err)
	assert.Equal(t, -76.25, res.Energy)
	assert.True(t, strings.HasPrefix(res.LogRef, "file://"), "log ref %q", res.LogRef)
	assert.True(t, strings.HasSuffix(res.LogRef, "2.out"), "log ref %q", res.LogRef)

	_, err = os.Stat(filepath.Join(work, "cfg-1", "HF_STO-3G", "2.out"))
	assert.ErrorIs(t, err, os.ErrNotExist, "archived output is removed locally")
}

func TestProgram_DeadlineKeepsPartialLog(t *testing.T) {
	sh := requireShell(t)
	work := t.TempDir()
	p := &Program{
		Command: sh,
		Args:    []string{"-c", "echo partial output; sleep 5", "calc", "{input}"},
		WorkDir: work,
	}

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	_, err := p.Compute(ctx, dimerRequest(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	outPath := filepath.Join(work, "cfg-1", "HF_STO-3G", "2.out")
	assert.Equal(t, outPath, LogRef(err))
	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "partial output")
}

func TestProgram_CancellationIsNotAFailure(t *testing.T) {
	sh := requireShell(t)
	p := &Program{
		Command: sh,
		Args:    []string{"-c", "sleep 5", "calc", "{input}"},
		WorkDir: t.TempDir(),
	}

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := p.Compute(ctx, dimerRequest(false))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "", LogRef(err))
}

func TestProgram_ComputeFailureKeepsLog(t *testing.T) {
	sh := requireShell(t)
	arch, err := archive.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		script string
	}{
		{"non-zero exit", "echo boom; exit 3"},
		{"error marker", "echo 'ERROR: basis not found'; echo 'energy= -1.0'"},
		{"no energy", "echo converged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Program{
				Command: sh,
				Args:    []string{"-c", tt.script, "calc", "{input}"},
				WorkDir: t.TempDir(),
				Archive: arch,
			}
			_, err := p.Compute(t.Context(), dimerRequest(false))
			require.Error(t, err)

			var ce *CalculatorError
			require.ErrorAs(t, err, &ce)
			assert.True(t, strings.HasPrefix(ce.LogRef, "file://"), "log ref %q", ce.LogRef)
		})
	}
}

func TestProgram_RequiresCommand(t *testing.T) {
	_, err := (&Program{}).Compute(t.Context(), dimerRequest(false))
	require.Error(t, err)
	assert.Equal(t, "", LogRef(err))
}
