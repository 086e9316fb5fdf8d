package worker

import "time"

// alarm detects restart loops: it fires when count restarts fall within one
// window, then stays quiet for the rest of that window. It never changes the
// restart policy.
type alarm struct {
	count  int
	window time.Duration

	restarts []time.Time
	firedAt  time.Time
}

func (a *alarm) restart(now time.Time) bool {
	recent := a.restarts[:0]
	for _, then := range a.restarts {
		if then.Add(a.window).After(now) {
			recent = append(recent, then)
		}
	}
	a.restarts = append(recent, now)

	if len(a.restarts) < a.count {
		return false
	}
	if !a.firedAt.IsZero() && a.firedAt.Add(a.window).After(now) {
		return false
	}
	a.firedAt = now
	return true
}
