package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/canarymesh/canary/pkg/release"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

// printState renders the release state snapshot every command
// finishes with.
func printState(out io.Writer, st release.State) {
	w := newTabwriter(out)
	fmt.Fprintf(w, "NAMESPACE\t%s\n", st.Namespace)
	fmt.Fprintf(w, "PHASE\t%s\n", st.Phase)
	fmt.Fprintf(w, "STABLE\t%s (weight %d, replicas %d/%d)\n",
		orNone(st.StableVersion), st.Weights.Stable, st.StableReplicas.Ready, st.StableReplicas.Desired)
	fmt.Fprintf(w, "CANARY\t%s (weight %d, replicas %d/%d)\n",
		orNone(st.CanaryVersion), st.Weights.Canary, st.CanaryReplicas.Ready, st.CanaryReplicas.Desired)
	fmt.Fprintf(w, "VALIDATED\t%v\n", st.Validated)
	if st.LastApplied != "" {
		fmt.Fprintf(w, "LAST APPLIED\t%s\n", st.LastApplied)
	}
	w.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
