package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/xyz"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Tag            string
	Fragments      string
	SkipDuplicates bool
}

type importResult struct {
	File string `json:"file"`
	Tag  string `json:"tag"`
	xyz.ImportReport
}

func (r importResult) String() string {
	return fmt.Sprintf("Imported %d of %d frames from %s as %q (%d duplicates skipped)",
		r.Added, r.Frames, r.File, r.Tag, r.Skipped)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.xyz>",
		Short: "Add configurations from a multi-frame xyz file",
		Long: `Read every frame of an xyz file, split its atoms into fragments and add
it to the ledger under a tag. Use "-" to read stdin.

Fragment sizes come from --fragments or the settings molecule.fragments.

Example:
  mbfit import dimers.xyz --tag dimerA --fragments 3,3
  mbfit import dimers.xyz --tag dimerA --skip-duplicates`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag for the imported configurations (required)")
	cmd.Flags().StringVar(&opts.Fragments, "fragments", "", "comma-separated atoms per fragment (default from settings)")
	cmd.Flags().BoolVar(&opts.SkipDuplicates, "skip-duplicates", false, "skip geometries already stored under the same tag")

	return cmd
}

func runImport(opts *ImportOptions, file string, cmd *cobra.Command) error {
	if opts.Tag == "" {
		return NewExitError(ExitCommandError, "--tag is required")
	}
	sess, closeStore, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	sizes := sess.settings.Molecule.Fragments
	if opts.Fragments != "" {
		if sizes, err = parseFragments(opts.Fragments); err != nil {
			return err
		}
	}
	if len(sizes) == 0 {
		return NewExitError(ExitCommandError, "fragment sizes required: pass --fragments or set molecule.fragments")
	}

	in, err := openInput(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer in.Close()

	ctx, stop := signalContext(cmd, sess.logger)
	defer stop()

	sess.out.VerboseLog("Importing %s with fragments %v", file, sizes)
	report, err := xyz.Import(ctx, sess.store, in, xyz.ImportOptions{
		Fragments:      sizes,
		Tag:            opts.Tag,
		SkipDuplicates: opts.SkipDuplicates,
		Logger:         sess.logger,
	})
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("import stopped after %d frames", report.Added), err)
	}
	return sess.out.Success(importResult{File: file, Tag: opts.Tag, ImportReport: report})
}
