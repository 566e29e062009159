package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/canarymesh/canary/pkg/api"
)

type deployCanaryOpts struct {
	*rootOpts
	version string
	weight  int
	message string
}

func newDeployCanary(parent *rootOpts) *deployCanaryOpts {
	return &deployCanaryOpts{rootOpts: parent}
}

func (opts *deployCanaryOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy-canary",
		Short: "Deploy a new version as the canary and give it a share of traffic.",
		Example: makeExample(
			"canaryctl deploy-canary --version v2.0 --weight 20",
			"canaryctl deploy-canary --version v2.0 --weight 5 -n staging",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.version, "version", "", "version to deploy as the canary")
	cmd.Flags().IntVar(&opts.weight, "weight", 10, "percentage of traffic to route to the canary, in (0,100)")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "attach a message to the audit trail")
	return cmd
}

func (opts *deployCanaryOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.version == "" {
		return newUsageError("please supply --version")
	}

	state, err := opts.API.StartCanary(context.Background(), api.StartCanarySpec{
		Namespace: opts.Namespace,
		Version:   opts.version,
		Weight:    opts.weight,
		Cause:     opts.cause(opts.message),
	})
	printState(cmd.OutOrStdout(), state)
	return err
}
