package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/canarymesh/canary/pkg/api"
)

type rollbackOpts struct {
	*rootOpts
	reason string
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Send all traffic back to stable and scale the canary away.",
		Example: makeExample(
			"canaryctl rollback -m \"perf regression\"",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.reason, "message", "m", "", "why this rollback happened; recorded in the audit trail")
	return cmd
}

func (opts *rollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	state, err := opts.API.Rollback(context.Background(), api.RollbackSpec{
		Namespace: opts.Namespace,
		Reason:    opts.reason,
		Cause:     opts.cause(opts.reason),
	})
	printState(cmd.OutOrStdout(), state)
	return err
}
