package release

import (
	"time"

	"github.com/canarymesh/canary/pkg/event"
	"github.com/canarymesh/canary/pkg/probe"
)

// Event emission for transitions. Appending is best-effort from the
// state machine's point of view: the writer is expected to swallow
// sink failures, and any error it does return is only logged.

func (c *Controller) logEvent(e event.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.LogEvent(e); err != nil {
		c.logger.Log("warning", "could not log event", "event", e.Type, "err", err)
	}
}

func outcomeOf(err error) (string, string, string) {
	if err == nil {
		return event.OutcomeSucceeded, event.LogLevelInfo, ""
	}
	return event.OutcomeFailed, event.LogLevelError, err.Error()
}

func (c *Controller) logStart(prev State, version string, weight int, startedAt time.Time, err error) {
	outcome, level, errMsg := outcomeOf(err)
	c.logEvent(event.Event{
		Type:      event.EventStartCanary,
		Namespace: c.cfg.Namespace,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		LogLevel:  level,
		Metadata: &event.TransitionEventMetadata{
			FromPhase: string(prev.Phase),
			ToPhase:   string(c.Status().Phase),
			Version:   version,
			Weight:    weight,
			Outcome:   outcome,
			Error:     errMsg,
		},
	})
}

func (c *Controller) logValidate(prev State, result probe.BatchResult, startedAt time.Time, err error) {
	outcome, level, errMsg := outcomeOf(err)
	c.logEvent(event.Event{
		Type:      event.EventValidate,
		Namespace: c.cfg.Namespace,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		LogLevel:  level,
		Metadata: &event.ValidateEventMetadata{
			FromPhase: string(prev.Phase),
			ToPhase:   string(c.Status().Phase),
			Samples:   result.Samples,
			Successes: result.Successes,
			MinRatio:  result.MinRatio,
			Outcome:   outcome,
			Error:     errMsg,
		},
	})
}

func (c *Controller) logPromote(prev State, version string, startedAt time.Time, err error) {
	outcome, level, errMsg := outcomeOf(err)
	c.logEvent(event.Event{
		Type:      event.EventPromote,
		Namespace: c.cfg.Namespace,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		LogLevel:  level,
		Metadata: &event.TransitionEventMetadata{
			FromPhase: string(prev.Phase),
			ToPhase:   string(c.Status().Phase),
			Version:   version,
			Outcome:   outcome,
			Error:     errMsg,
		},
	})
}

func (c *Controller) logRollback(prev State, reason string, startedAt time.Time, err error) {
	outcome, level, errMsg := outcomeOf(err)
	c.logEvent(event.Event{
		Type:      event.EventRollback,
		Namespace: c.cfg.Namespace,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		LogLevel:  level,
		Metadata: &event.TransitionEventMetadata{
			FromPhase: string(prev.Phase),
			ToPhase:   string(c.Status().Phase),
			Reason:    reason,
			Outcome:   outcome,
			Error:     errMsg,
		},
	})
}
