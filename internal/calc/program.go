package calc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/ir"
)

// Input file placeholders recognised in Program.Args.
const (
	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"
)

// DefaultInputTemplate renders a model comment and a geometry block. Ghost
// atoms carry an "@" prefix.
const DefaultInputTemplate = `! {{.Model.Method}} {{.Model.Basis}}{{if .Model.CP}} counterpoise{{end}}
! configuration {{.Key.ConfigurationID}} subset {{.Label}}
geometry={
{{- range .Atoms}}
{{.Element}} {{coord .X}} {{coord .Y}} {{coord .Z}}
{{- end}}
{{- if .Model.CP}}{{range .Ghosts}}
@{{.Element}} {{coord .X}} {{coord .Y}} {{coord .Z}}
{{- end}}{{end}}
}
`

// TemplateData is what an input template sees.
type TemplateData struct {
	Key    ir.RecordKey
	Model  ir.Model
	Label  string
	Subset ir.Subset
	// Fragments are the subset's fragments; Atoms is them flattened.
	Fragments ir.Geometry
	Atoms     []ir.Atom
	// Ghosts are populated only for counterpoise-corrected models.
	Ghosts []ir.Atom
}

// Program runs an external program once per subset.
//
// Each call renders an input file from Template into WorkDir, runs Command
// with Args (where {input} and {output} are replaced by the file paths, and
// the input path is appended when neither appears), captures stdout and
// stderr as the output log and parses it with ParseEnergy.
//
// The log reference comes back on the Result, and failures that produced
// a log come back as *CalculatorError, so the ledger records it either way.
// A call whose context deadline passes is such a failure; its partial log
// is kept. Cancellation is returned as ctx.Err() with no log.
type Program struct {
	Command   string
	Args      []string
	Template  *template.Template
	WorkDir   string
	InputExt  string // default "inp"
	OutputExt string // default "out"

	// Archive, when set, receives every output log; the returned URI
	// becomes the log reference instead of the local path.
	Archive archive.Store

	// KeepFiles leaves inputs and outputs in WorkDir after success.
	KeepFiles bool

	Logger *slog.Logger
}

// ParseTemplate compiles an input template with the helper functions
// available to DefaultInputTemplate.
func ParseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(template.FuncMap{
		"coord": func(v float64) string { return fmt.Sprintf("%.10f", v) },
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse input template %s: %w", name, err)
	}
	return t, nil
}

func (p *Program) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Program) template() (*template.Template, error) {
	if p.Template != nil {
		return p.Template, nil
	}
	return ParseTemplate("default", DefaultInputTemplate)
}

// Compute runs one calculation and returns the subset's total energy with
// the reference of its output log.
func (p *Program) Compute(ctx context.Context, req Request) (Result, error) {
	if p.Command == "" {
		return Result{}, fmt.Errorf("calculator command not configured")
	}
	tmpl, err := p.template()
	if err != nil {
		return Result{}, err
	}

	dir := filepath.Join(p.workDir(), archive.JoinKey(req.Key.ConfigurationID, req.Model.String()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("calculator work dir: %w", err)
	}
	base := filepath.Join(dir, req.Subset.Label())
	inPath := base + "." + orDefault(p.InputExt, "inp")
	outPath := base + "." + orDefault(p.OutputExt, "out")

	var input bytes.Buffer
	if err := tmpl.Execute(&input, p.templateData(req)); err != nil {
		return Result{}, fmt.Errorf("render input: %w", err)
	}
	if err := os.WriteFile(inPath, input.Bytes(), 0o644); err != nil {
		return Result{}, fmt.Errorf("write input: %w", err)
	}

	runErr := p.run(ctx, dir, inPath, outPath)
	if err := ctx.Err(); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			// Cancellation is not a calculation failure.
			return Result{}, err
		}
		// The deadline passed mid-run; the partial output is the log.
		logRef := p.logRef(context.WithoutCancel(ctx), req, outPath)
		return Result{}, &CalculatorError{LogRef: logRef, Err: err}
	}

	logRef := p.logRef(ctx, req, outPath)
	if runErr != nil {
		return Result{}, &CalculatorError{LogRef: logRef, Err: runErr}
	}

	out, err := os.Open(outPath)
	if err != nil {
		return Result{}, &CalculatorError{LogRef: logRef, Err: err}
	}
	energy, err := ParseEnergy(out)
	out.Close()
	if err != nil {
		return Result{}, &CalculatorError{LogRef: logRef, Err: err}
	}

	if !p.KeepFiles {
		_ = os.Remove(inPath)
		if logRef != outPath {
			// Archived; the log lives on under logRef.
			_ = os.Remove(outPath)
		}
	}
	p.logger().Debug("subset computed",
		"configuration_id", req.Key.ConfigurationID,
		"subset", req.Subset.Label(),
		"energy", energy,
		"log_ref", logRef,
	)
	return Result{Energy: energy, LogRef: logRef}, nil
}

func (p *Program) run(ctx context.Context, dir, inPath, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, p.Command, p.args(inPath, outPath)...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d", p.Command, exitErr.ExitCode())
		}
		return fmt.Errorf("run %s: %w", p.Command, err)
	}
	return nil
}

func (p *Program) args(inPath, outPath string) []string {
	args := make([]string, 0, len(p.Args)+1)
	substituted := false
	for _, a := range p.Args {
		if strings.Contains(a, inputPlaceholder) || strings.Contains(a, outputPlaceholder) {
			substituted = true
		}
		a = strings.ReplaceAll(a, inputPlaceholder, inPath)
		a = strings.ReplaceAll(a, outputPlaceholder, outPath)
		args = append(args, a)
	}
	if !substituted {
		args = append(args, inPath)
	}
	return args
}

// logRef publishes the output log, falling back to the local path when
// archiving fails.
func (p *Program) logRef(ctx context.Context, req Request, outPath string) string {
	ref, err := p.publish(ctx, req, outPath)
	if err != nil {
		p.logger().Warn("archive output failed", "path", outPath, "error", err)
		return outPath
	}
	return ref
}

// publish archives the output log and returns its reference. Without an
// archive the local path is the reference.
func (p *Program) publish(ctx context.Context, req Request, outPath string) (string, error) {
	if p.Archive == nil {
		return outPath, nil
	}
	f, err := os.Open(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := archive.JoinKey(req.Key.ConfigurationID, req.Model.String(), filepath.Base(outPath))
	return p.Archive.Put(ctx, key, f)
}

func (p *Program) templateData(req Request) TemplateData {
	frags := req.Fragments()
	data := TemplateData{
		Key:       req.Key,
		Model:     req.Model,
		Label:     req.Subset.Label(),
		Subset:    req.Subset,
		Fragments: frags,
		Atoms:     frags.Atoms(),
	}
	if req.Model.CP {
		data.Ghosts = req.Ghosts()
	}
	return data
}

func (p *Program) workDir() string {
	if p.WorkDir != "" {
		return p.WorkDir
	}
	return filepath.Join(os.TempDir(), "mbfit-calc")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
