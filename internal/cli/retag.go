package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type retagResult struct {
	ConfigurationID string `json:"configuration_id"`
	Tag             string `json:"tag"`
}

func (r retagResult) String() string {
	return fmt.Sprintf("Tagged %s as %q", r.ConfigurationID, r.Tag)
}

// NewRetagCommand creates the retag command.
func NewRetagCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retag <configuration-id> <tag>",
		Short: "Change a configuration's tag",
		Long: `Move a configuration to another tag. Its energy records are unchanged.

Example:
  mbfit retag 0190a1b2-... dimerB`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeStore, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := sess.store.Retag(cmd.Context(), args[0], args[1]); err != nil {
				return WrapExitError(ExitFailure, "retag failed", err)
			}
			return sess.out.Success(retagResult{ConfigurationID: args[0], Tag: args[1]})
		},
	}

	addDatabaseFlag(cmd, rootOpts)

	return cmd
}
