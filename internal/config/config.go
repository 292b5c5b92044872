// Package config loads the mbfit settings file.
//
// Settings are YAML. Unknown keys are rejected. Relative paths in the file
// are resolved against the directory holding it, so a project can be run
// from anywhere.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mbfit/internal/archive"
	"github.com/roach88/mbfit/internal/calc"
	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/manybody"
	"github.com/roach88/mbfit/internal/refine"
)

// DefaultFile is the settings file looked up when none is named.
const DefaultFile = "mbfit.yaml"

// DefaultDatabase is the ledger path used when the settings name none.
const DefaultDatabase = "mbfit.db"

// Settings is the whole settings file.
type Settings struct {
	// Database is a SQLite path or a postgres:// DSN.
	Database string `yaml:"database"`

	Model      ModelSettings      `yaml:"model"`
	Molecule   MoleculeSettings   `yaml:"molecule"`
	Calculator CalculatorSettings `yaml:"calculator"`
	Fit        FitSettings        `yaml:"fit"`
	Archive    archive.Config     `yaml:"archive"`
}

// ModelSettings names the level of theory.
type ModelSettings struct {
	Method string `yaml:"method"`
	Basis  string `yaml:"basis"`
	CP     bool   `yaml:"cp"`
}

// MoleculeSettings describes how xyz frames split into fragments.
type MoleculeSettings struct {
	// Fragments lists atom counts per fragment, in frame order.
	Fragments []int `yaml:"fragments"`
}

// CalculatorSettings configures the external quantum chemistry program.
type CalculatorSettings struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// InputTemplate is a text/template file. Empty selects the built-in
	// template.
	InputTemplate string `yaml:"input_template"`

	InputExt  string        `yaml:"input_ext"`
	OutputExt string        `yaml:"output_ext"`
	WorkDir   string        `yaml:"work_dir"`
	KeepFiles bool          `yaml:"keep_files"`
	Timeout   time.Duration `yaml:"timeout"`
	Workers   int           `yaml:"workers"`
}

// FitSettings configures the fit executable and the refiner.
type FitSettings struct {
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	Dir             string   `yaml:"dir"`
	Attempts        int      `yaml:"attempts"`
	TargetRMSD      float64  `yaml:"target_rmsd"`

	// The RMSD is field RMSDField (0-based) of line RMSDLineFromEnd
	// counted from the end of the fit log. Zero selects the default.
	RMSDLineFromEnd int `yaml:"rmsd_line_from_end"`
	RMSDField       int `yaml:"rmsd_field"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Database: DefaultDatabase,
		Calculator: CalculatorSettings{
			InputExt:  "inp",
			OutputExt: "out",
			WorkDir:   "calculations",
			Workers:   1,
		},
		Fit: FitSettings{
			Dir:             "fit",
			Attempts:        refine.DefaultAttempts,
			RMSDLineFromEnd: refine.DefaultLineFromEnd,
			RMSDField:       refine.DefaultField,
		},
		Archive: archive.Config{
			Driver: archive.DriverFilesystem,
			Dir:    "archive",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	s.resolve(filepath.Dir(path))
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// LoadOrDefault loads path when it exists. A missing file yields the
// defaults; any other error is returned.
func LoadOrDefault(path string) (Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// resolve makes relative paths relative to base.
func (s *Settings) resolve(base string) {
	join := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if !isURL(s.Database) {
		join(&s.Database)
	}
	join(&s.Calculator.InputTemplate)
	join(&s.Calculator.WorkDir)
	join(&s.Fit.Dir)
	if s.Archive.Driver == "" || s.Archive.Driver == archive.DriverFilesystem {
		join(&s.Archive.Dir)
	}
}

func isURL(dsn string) bool {
	for _, prefix := range []string{"postgres://", "postgresql://", "file:"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

// Validate checks value ranges. Sections a command does not use may stay
// empty; the command checks what it needs.
func (s Settings) Validate() error {
	for i, n := range s.Molecule.Fragments {
		if n < 1 {
			return fmt.Errorf("molecule.fragments[%d]: atom count must be positive, got %d", i, n)
		}
	}
	if len(s.Molecule.Fragments) > manybody.MaxBodies {
		return fmt.Errorf("molecule.fragments: at most %d fragments, got %d", manybody.MaxBodies, len(s.Molecule.Fragments))
	}
	if s.Calculator.Workers < 0 {
		return fmt.Errorf("calculator.workers must not be negative")
	}
	if s.Calculator.Timeout < 0 {
		return fmt.Errorf("calculator.timeout must not be negative")
	}
	if s.Fit.Attempts < 0 {
		return fmt.Errorf("fit.attempts must not be negative")
	}
	if s.Fit.TargetRMSD < 0 {
		return fmt.Errorf("fit.target_rmsd must not be negative")
	}
	if s.Fit.RMSDLineFromEnd < 0 || s.Fit.RMSDField < 0 {
		return fmt.Errorf("fit rmsd position must not be negative")
	}
	switch s.Archive.Driver {
	case "", archive.DriverFilesystem:
	case archive.DriverS3:
		if s.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("archive.driver: unknown driver %q", s.Archive.Driver)
	}
	return nil
}

// ModelKey returns the configured model. Method and basis are required.
func (s Settings) ModelKey() (ir.Model, error) {
	if s.Model.Method == "" || s.Model.Basis == "" {
		return ir.Model{}, fmt.Errorf("model.method and model.basis are required")
	}
	return ir.Model{Method: s.Model.Method, Basis: s.Model.Basis, CP: s.Model.CP}, nil
}

// Program builds the calculator described by the calculator section.
func (s Settings) Program(store archive.Store) (*calc.Program, error) {
	c := s.Calculator
	if c.Command == "" {
		return nil, fmt.Errorf("calculator.command is required")
	}
	var tmpl *template.Template
	if c.InputTemplate != "" {
		text, err := os.ReadFile(c.InputTemplate)
		if err != nil {
			return nil, fmt.Errorf("read input template: %w", err)
		}
		if tmpl, err = calc.ParseTemplate(filepath.Base(c.InputTemplate), string(text)); err != nil {
			return nil, err
		}
	}
	return &calc.Program{
		Command:   c.Command,
		Args:      c.Args,
		Template:  tmpl,
		WorkDir:   c.WorkDir,
		InputExt:  c.InputExt,
		OutputExt: c.OutputExt,
		Archive:   store,
		KeepFiles: c.KeepFiles,
	}, nil
}

// Refiner builds the refiner described by the fit section.
func (s Settings) Refiner(store archive.Store) (*refine.Refiner, error) {
	f := s.Fit
	if f.Command == "" {
		return nil, fmt.Errorf("fit.command is required")
	}
	return &refine.Refiner{
		Exec:        refine.ExecFit{Command: f.Command, Args: f.Args},
		Attempts:    f.Attempts,
		Target:      f.TargetRMSD,
		Dir:         f.Dir,
		LineFromEnd: f.RMSDLineFromEnd,
		Field:       refine.FieldIndex(f.RMSDField),
		Archive:     store,
	}, nil
}

// Save writes s to path as YAML. It refuses to replace an existing file
// unless overwrite is set.
func Save(path string, s Settings, overwrite bool) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	return f.Close()
}
