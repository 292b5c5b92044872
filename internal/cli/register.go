package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/ir"
)

type registerResult struct {
	Model    string `json:"model"`
	Tag      string `json:"tag"`
	Inserted int    `json:"inserted"`
}

func (r registerResult) String() string {
	return fmt.Sprintf("Registered %d new %s records for tag %s", r.Inserted, r.Model, r.Tag)
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		tag   string
		model modelFlags
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create pending energy records for a model",
		Long: `Create a pending energy record for every configuration with the tag and
the selected model. Existing records are left alone, so registering twice
is harmless.

Example:
  mbfit register --tag dimerA --method HF --basis STO-3G --cp false
  mbfit register --tag %`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeStore, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			m, err := model.resolve(sess.settings)
			if err != nil {
				return err
			}
			n, err := sess.store.RegisterTag(cmd.Context(), m, ir.ParseStringPattern(tag))
			if err != nil {
				return WrapExitError(ExitFailure, "register failed", err)
			}
			sess.logger.Info("records registered", "model", m.String(), "tag", tag, "inserted", n)
			return sess.out.Success(registerResult{Model: m.String(), Tag: tag, Inserted: n})
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().StringVar(&tag, "tag", ir.Wildcard, `configuration tag ("%" for all)`)
	model.add(cmd)

	return cmd
}
