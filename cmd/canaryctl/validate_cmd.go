package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canarymesh/canary/pkg/api"
)

type validateOpts struct {
	*rootOpts
	samples  int
	minRatio float64
	message  string
}

func newValidate(parent *rootOpts) *validateOpts {
	return &validateOpts{rootOpts: parent}
}

func (opts *validateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Probe the canary and report whether it meets the success threshold.",
		Example: makeExample(
			"canaryctl validate --samples 20",
			"canaryctl validate --samples 50 --min-success 0.99",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().IntVar(&opts.samples, "samples", 10, "number of probes to run against the canary")
	cmd.Flags().Float64Var(&opts.minRatio, "min-success", 0.95, "minimum ratio of successful probes for a pass")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "attach a message to the audit trail")
	return cmd
}

func (opts *validateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.samples <= 0 {
		return newUsageError("--samples must be positive")
	}
	if opts.minRatio < 0 || opts.minRatio > 1 {
		return newUsageError("--min-success must be within [0,1]")
	}

	result, err := opts.API.Validate(context.Background(), api.ValidateSpec{
		Namespace: opts.Namespace,
		Samples:   opts.samples,
		MinRatio:  opts.minRatio,
		Cause:     opts.cause(opts.message),
	})
	if result.Probe.Samples > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Probes: %d/%d succeeded (need %.2f)\n",
			result.Probe.Successes, result.Probe.Samples, result.Probe.MinRatio)
		for version, count := range result.Probe.Versions {
			fmt.Fprintf(cmd.OutOrStdout(), "  answered by %s: %d\n", version, count)
		}
	}
	printState(cmd.OutOrStdout(), result.State)
	return err
}
