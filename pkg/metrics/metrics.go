package metrics

/*
Labels and so on for metrics used across the canary controller.
*/

const (
	LabelMethod    = "method"
	LabelNamespace = "namespace"
	LabelRoute     = "route"
	LabelSuccess   = "success"

	// Labels for release transition metrics
	LabelTransition = "transition"
	LabelPhase      = "phase"

	// Labels for probe metrics
	LabelTarget = "target"
)
