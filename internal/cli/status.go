package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/ir"
)

type statusResult struct {
	Pending  int `json:"pending"`
	Computed int `json:"computed"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

func (r statusResult) String() string {
	return fmt.Sprintf("pending   %d\ncomputed  %d\nfailed    %d\ntotal     %d", r.Pending, r.Computed, r.Failed, r.Total)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count energy records by status",
		Long: `Count the energy records matching the filter in each status.

Example:
  mbfit status
  mbfit status --tag dimerA --method % --basis %`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeStore, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			f, err := filter.resolve(sess.settings)
			if err != nil {
				return err
			}
			counts, err := sess.store.Summary(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitFailure, "status failed", err)
			}
			r := statusResult{
				Pending:  counts[ir.StatusPending],
				Computed: counts[ir.StatusComputed],
				Failed:   counts[ir.StatusFailed],
			}
			r.Total = r.Pending + r.Computed + r.Failed
			return sess.out.Success(r)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	filter.add(cmd)

	return cmd
}
