package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/config"
	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/store"
)

// session is what a data command works with: settings with flag
// overrides applied, an open ledger and a logger.
type session struct {
	settings config.Settings
	store    *store.Store
	logger   *slog.Logger
	out      *OutputFormatter
}

// newLogger configures slog on stderr. Verbose lowers the level to Debug.
func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadSettings reads the settings file named by --config, or ./mbfit.yaml
// when it exists, and applies the global flag overrides.
func loadSettings(opts *RootOptions) (config.Settings, error) {
	var (
		s   config.Settings
		err error
	)
	if opts.Config != "" {
		s, err = config.Load(opts.Config)
	} else {
		s, err = config.LoadOrDefault(config.DefaultFile)
	}
	if err != nil {
		return config.Settings{}, WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if opts.Database != "" {
		s.Database = opts.Database
	}
	return s, nil
}

// openSession loads settings and opens the ledger. The returned close
// function must be called when the command is done.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, func(), error) {
	logger := newLogger(opts, cmd)
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("opening database", "database", settings.Database)
	st, err := store.Open(settings.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	closeFn := func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}
	return &session{
		settings: settings,
		store:    st,
		logger:   logger,
		out:      newFormatter(opts, cmd),
	}, closeFn, nil
}

// addDatabaseFlag adds --db to a data command.
func addDatabaseFlag(cmd *cobra.Command, opts *RootOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "ledger database: SQLite path or postgres:// DSN (overrides settings)")
}

// signalContext derives a context cancelled by SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// modelFlags are the --method, --basis and --cp flags of commands that work
// on exactly one model. Unset flags fall back to the settings model.
type modelFlags struct {
	method string
	basis  string
	cp     string
}

func (m *modelFlags) add(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.method, "method", "", "electronic structure method (default from settings)")
	cmd.Flags().StringVar(&m.basis, "basis", "", "basis set (default from settings)")
	cmd.Flags().StringVar(&m.cp, "cp", "", "counterpoise correction true|false (default from settings)")
}

func (m *modelFlags) resolve(s config.Settings) (ir.Model, error) {
	ms := s.Model
	if m.method != "" {
		ms.Method = m.method
	}
	if m.basis != "" {
		ms.Basis = m.basis
	}
	if m.cp != "" {
		p, err := ir.ParseBoolPattern(m.cp)
		if err != nil || p.IsAny() {
			return ir.Model{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --cp %q: want true or false", m.cp))
		}
		ms.CP = p.Value()
	}
	s.Model = ms
	model, err := s.ModelKey()
	if err != nil {
		return ir.Model{}, WrapExitError(ExitCommandError, "no model selected", err)
	}
	return model, nil
}

// filterFlags are the pattern flags of commands that select records.
// The literal "%" matches anything. Unset model flags fall back to the
// settings model, or to "%" when the settings name none.
type filterFlags struct {
	tag    string
	method string
	basis  string
	cp     string
}

func (f *filterFlags) add(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tag, "tag", ir.Wildcard, `configuration tag ("%" for any)`)
	cmd.Flags().StringVar(&f.method, "method", "", `method ("%" for any; default from settings)`)
	cmd.Flags().StringVar(&f.basis, "basis", "", `basis set ("%" for any; default from settings)`)
	cmd.Flags().StringVar(&f.cp, "cp", "", `counterpoise true|false ("%" for any; default from settings)`)
}

func (f *filterFlags) resolve(s config.Settings) (ir.Filter, error) {
	pick := func(flag, setting string) string {
		switch {
		case flag != "":
			return flag
		case setting != "":
			return setting
		default:
			return ir.Wildcard
		}
	}
	filter := ir.Filter{
		Tag:    ir.ParseStringPattern(f.tag),
		Method: ir.ParseStringPattern(pick(f.method, s.Model.Method)),
		Basis:  ir.ParseStringPattern(pick(f.basis, s.Model.Basis)),
	}

	cp := f.cp
	if cp == "" {
		cp = ir.Wildcard
		if s.Model.Method != "" {
			cp = fmt.Sprint(s.Model.CP)
		}
	}
	p, err := ir.ParseBoolPattern(cp)
	if err != nil {
		return ir.Filter{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --cp %q: want true, false or %%", f.cp))
	}
	filter.CP = p
	return filter, nil
}

// writeMetrics writes the registry in the Prometheus text format, for the
// node exporter's textfile collector. An empty path writes nothing.
func writeMetrics(path string, reg *prometheus.Registry, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		logger.Warn("failed to write metrics", "path", path, "error", err)
	}
}
