package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/canarymesh/canary/pkg/api"
)

type promoteOpts struct {
	*rootOpts
	force   bool
	message string
}

func newPromote(parent *rootOpts) *promoteOpts {
	return &promoteOpts{rootOpts: parent}
}

func (opts *promoteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Make the canary's version the stable version and retire the canary.",
		Example: makeExample(
			"canaryctl promote",
			"canaryctl promote --force",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "promote even if the canary has not passed validation")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "attach a message to the audit trail")
	return cmd
}

func (opts *promoteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	state, err := opts.API.Promote(context.Background(), api.PromoteSpec{
		Namespace: opts.Namespace,
		Force:     opts.force,
		Cause:     opts.cause(opts.message),
	})
	printState(cmd.OutOrStdout(), state)
	return err
}
