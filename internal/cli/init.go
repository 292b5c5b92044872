package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/config"
	"github.com/roach88/mbfit/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Method    string
	Basis     string
	CP        bool
	Fragments string
	Force     bool
}

// InitResult is the output of the init command.
type InitResult struct {
	Settings        string `json:"settings"`
	SettingsWritten bool   `json:"settings_written"`
	Database        string `json:"database"`
	Backend         string `json:"backend"`
}

func (r InitResult) String() string {
	var b strings.Builder
	if r.SettingsWritten {
		fmt.Fprintf(&b, "Wrote settings to %s\n", r.Settings)
	} else {
		fmt.Fprintf(&b, "Using existing settings %s\n", r.Settings)
	}
	fmt.Fprintf(&b, "Ledger ready at %s (%s)", r.Database, r.Backend)
	return b.String()
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a settings file and an empty ledger",
		Long: `Write a settings file with defaults (unless one exists) and create the
ledger database it names. Running init again is harmless.

Example:
  mbfit init --method HF --basis STO-3G --fragments 3,3
  mbfit init --db postgres://mbfit@localhost/mbfit`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().StringVar(&opts.Method, "method", "", "method written to new settings")
	cmd.Flags().StringVar(&opts.Basis, "basis", "", "basis set written to new settings")
	cmd.Flags().BoolVar(&opts.CP, "cp", false, "counterpoise correction written to new settings")
	cmd.Flags().StringVar(&opts.Fragments, "fragments", "", "comma-separated atoms per fragment, e.g. 3,3")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing settings file")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	path := opts.Config
	if path == "" {
		path = config.DefaultFile
	}

	result := InitResult{Settings: path}
	_, statErr := os.Stat(path)
	if opts.Force || errors.Is(statErr, os.ErrNotExist) {
		s := config.Default()
		s.Model = config.ModelSettings{Method: opts.Method, Basis: opts.Basis, CP: opts.CP}
		if opts.Database != "" {
			s.Database = opts.Database
		}
		if opts.Fragments != "" {
			sizes, err := parseFragments(opts.Fragments)
			if err != nil {
				return err
			}
			s.Molecule.Fragments = sizes
		}
		if err := s.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid settings", err)
		}
		if err := config.Save(path, s, opts.Force); err != nil {
			return WrapExitError(ExitCommandError, "failed to write settings", err)
		}
		result.SettingsWritten = true
		logger.Info("settings written", "path", path)
	}

	settings, err := loadSettings(&RootOptions{Config: path, Database: opts.Database})
	if err != nil {
		return err
	}
	st, err := store.Open(settings.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	result.Database = settings.Database
	result.Backend = st.Backend()
	if err := st.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to close database", err)
	}

	return formatter.Success(result)
}

// parseFragments parses "3,3" into atom counts.
func parseFragments(s string) ([]int, error) {
	var sizes []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --fragments %q: want positive atom counts like 3,3", s))
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
