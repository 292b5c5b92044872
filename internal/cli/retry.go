package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mbfit/internal/ir"
)

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	ConfigurationID string
	Recompute       bool
	model           modelFlags
}

type retryResult struct {
	Model           string `json:"model"`
	ConfigurationID string `json:"configuration_id,omitempty"`
	Reset           int64  `json:"reset"`
	Recomputed      bool   `json:"recomputed,omitempty"`
}

func (r retryResult) String() string {
	if r.Recomputed {
		return fmt.Sprintf("Cleared %s record of %s; it will be recomputed by the next fill", r.Model, r.ConfigurationID)
	}
	return fmt.Sprintf("Reset %d failed %s records to pending", r.Reset, r.Model)
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Return failed records to pending",
		Long: `Reset failed records of the model to pending so the next fill computes
them again. Subset energies saved before the failure are kept.

With --id only that configuration's record is reset. Adding --recompute
also clears a computed record and all its subset energies.

Example:
  mbfit retry
  mbfit retry --id 0190a1b2-... --recompute`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, rootOpts)
	cmd.Flags().StringVar(&opts.ConfigurationID, "id", "", "configuration id of a single record")
	cmd.Flags().BoolVar(&opts.Recompute, "recompute", false, "discard the record's energies and start over (requires --id)")
	opts.model.add(cmd)

	return cmd
}

func runRetry(opts *RetryOptions, cmd *cobra.Command) error {
	if opts.Recompute && opts.ConfigurationID == "" {
		return NewExitError(ExitCommandError, "--recompute requires --id")
	}
	sess, closeStore, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	m, err := opts.model.resolve(sess.settings)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	result := retryResult{Model: m.String(), ConfigurationID: opts.ConfigurationID}

	switch {
	case opts.Recompute:
		key := ir.RecordKey{ConfigurationID: opts.ConfigurationID, Model: m}
		if err := sess.store.Recompute(ctx, key); err != nil {
			return WrapExitError(ExitFailure, "recompute failed", err)
		}
		result.Recomputed = true
	case opts.ConfigurationID != "":
		key := ir.RecordKey{ConfigurationID: opts.ConfigurationID, Model: m}
		if err := sess.store.ResetFailed(ctx, key); err != nil {
			return WrapExitError(ExitFailure, "retry failed", err)
		}
		result.Reset = 1
	default:
		n, err := sess.store.ResetAllFailed(ctx, m)
		if err != nil {
			return WrapExitError(ExitFailure, "retry failed", err)
		}
		result.Reset = n
	}

	sess.logger.Info("records reset", "model", m.String(), "reset", result.Reset, "recomputed", result.Recomputed)
	return sess.out.Success(result)
}
