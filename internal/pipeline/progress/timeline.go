// Package progress schedules the cosmetic step indicator shown while an
// analysis runs. It has no control authority: callers re-check the real
// pipeline status before applying a step.
package progress

import (
	"sync"
	"time"
)

// Steps are the labels of the indicator, in order.
var Steps = []string{"Uploading", "Extracting", "Analyzing", "Scoring"}

// Last is the index of the final step.
var Last = len(Steps) - 1

// Timeline owns the pending timers of one run. Starting a new run or
// cancelling stops every pending timer as a unit.
type Timeline struct {
	mu     sync.Mutex
	timers []*time.Timer
	token  string
}

// Start cancels any pending run and schedules fire(token, i) for every step
// i, interval apart, beginning immediately.
func (t *Timeline) Start(token string, interval time.Duration, fire func(token string, step int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	t.token = token
	t.timers = make([]*time.Timer, 0, len(Steps))
	for i := range Steps {
		step := i
		t.timers = append(t.timers, time.AfterFunc(time.Duration(step)*interval, func() {
			fire(token, step)
		}))
	}
}

// Cancel stops all pending timers.
func (t *Timeline) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// CancelToken stops the pending timers only when they belong to token. A
// run that finishes late never cancels the steps of a newer run.
func (t *Timeline) CancelToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == token {
		t.stopLocked()
	}
}

// Token returns the token of the scheduled run, or "" when none is pending.
func (t *Timeline) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *Timeline) stopLocked() {
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
	t.token = ""
}

// Label returns the label of step, or "" when out of range.
func Label(step int) string {
	if step < 0 || step >= len(Steps) {
		return ""
	}
	return Steps[step]
}
