package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type eventsOpts struct {
	*rootOpts
	limit int
}

func newEvents(parent *rootOpts) *eventsOpts {
	return &eventsOpts{rootOpts: parent}
}

func (opts *eventsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit trail of release transitions, newest first.",
		RunE:  opts.RunE,
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of events to show; 0 for all retained")
	return cmd
}

func (opts *eventsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	events, err := opts.API.Events(context.Background(), opts.Namespace, opts.limit)
	if err != nil {
		return err
	}

	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.StartedAt.Format("2006-01-02 15:04:05"), e.Type, e.String())
	}
	w.Flush()
	return nil
}
