// Package hours provides the business-hours gating predicate.
package hours

import "time"

// Window is a daily business-hours window in local wall-clock hours.
// The window covers [StartHour, EndHour).
type Window struct {
	StartHour int
	EndHour   int
}

// Open reports whether now falls inside the window. It is evaluated per
// event, never latched, so a reconfigured window takes effect mid-session.
func (w Window) Open(now time.Time) bool {
	h := now.Hour()
	return h >= w.StartHour && h < w.EndHour
}
