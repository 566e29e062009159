package main

import (
	"context"

	"github.com/spf13/cobra"
)

type statusOpts struct {
	*rootOpts
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the release stands.",
		RunE:  opts.RunE,
	}
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	state, err := opts.API.Status(context.Background(), opts.Namespace)
	if err != nil {
		return err
	}
	printState(cmd.OutOrStdout(), state)
	return nil
}
