package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/trainingset"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Formulas  string
	Fragments int
	filter    filterFlags
}

type exportResult struct {
	File   string `json:"file"`
	Frames int    `json:"frames"`
}

func (r exportResult) String() string {
	return fmt.Sprintf("Wrote %d frames to %s", r.Frames, r.File)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <training-set>",
		Short: "Write computed records as a training set",
		Long: `Write one xyz frame per computed record matching the filter. The comment
line carries the monomer energy for single fragments and the non-additive
many-body energy otherwise.

A .gz or .zst extension compresses the file. Use "-" for stdout.

Example:
  mbfit export dimers.xyz --tag dimerA
  mbfit export dimers.xyz.zst --formulas H2O,H2O --method % --basis %`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().StringVar(&opts.Formulas, "formulas", "", "comma-separated fragment formulas, e.g. H2O,H2O")
	cmd.Flags().IntVar(&opts.Fragments, "fragment-count", 0, "only configurations with this many fragments")
	opts.filter.add(cmd)

	return cmd
}

func runExport(opts *ExportOptions, file string, cmd *cobra.Command) error {
	if opts.Formulas != "" && opts.Fragments > 0 {
		return NewExitError(ExitCommandError, "--formulas and --fragment-count are mutually exclusive")
	}
	sess, closeStore, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	f, err := opts.filter.resolve(sess.settings)
	if err != nil {
		return err
	}
	molecule := trainingset.MoleculeFilter(trainingset.AnyMolecule)
	switch {
	case opts.Formulas != "":
		molecule = trainingset.FragmentFormulas(strings.Split(opts.Formulas, ",")...)
	case opts.Fragments > 0:
		molecule = trainingset.FragmentCount(opts.Fragments)
	}

	ctx, stop := signalContext(cmd, sess.logger)
	defer stop()

	var n int
	if file == stdinName {
		n, err = trainingset.Extract(ctx, sess.store, f, molecule, cmd.OutOrStdout())
	} else {
		n, err = trainingset.WriteFile(ctx, file, sess.store, f, molecule)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	sess.logger.Info("training set written", "file", file, "frames", n, "filter", describeFilter(f))
	if file == stdinName {
		return nil
	}
	return sess.out.Success(exportResult{File: file, Frames: n})
}

func describeFilter(f ir.Filter) string {
	show := func(p ir.Pattern[string]) string {
		if p.IsAny() {
			return ir.Wildcard
		}
		return p.Value()
	}
	cp := ir.Wildcard
	if !f.CP.IsAny() {
		cp = fmt.Sprint(f.CP.Value())
	}
	return fmt.Sprintf("tag=%s method=%s basis=%s cp=%s", show(f.Tag), show(f.Method), show(f.Basis), cp)
}
