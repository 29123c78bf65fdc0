package utils

import (
	"github.com/pkg/errors"
	"github.com/tevino/abool"
)

// StartStopOnce gives a service idempotent Start/Stop semantics, same shape
// as the teacher's utils.StartStopOnce embedded in EthBroadcaster. Built on
// abool instead of a hand-rolled mutex+bool pair.
type StartStopOnce struct {
	state *abool.AtomicBool
}

// NewStartStopOnce returns a guard in the "never started" state.
func NewStartStopOnce() StartStopOnce {
	return StartStopOnce{state: abool.New()}
}

// StartOnce runs fn if the guard is not in the started state, and marks it
// started before fn runs, so a start whose fn fails still counts as started.
// The guard does not remember a previous stop: after StopOnce, StartOnce
// runs fn again.
func (s StartStopOnce) StartOnce(name string, fn func() error) error {
	if !s.state.SetToIf(false, true) {
		return errors.Errorf("%s has already been started", name)
	}
	return fn()
}

// StopOnce runs fn only if the guard is in the started state, and returns
// the guard to the not-started state. A second StopOnce reports that the
// service has not been started.
func (s StartStopOnce) StopOnce(name string, fn func() error) error {
	if !s.state.IsSet() {
		return errors.Errorf("%s cannot be stopped, it has not been started", name)
	}
	if !s.state.SetToIf(true, false) {
		return errors.Errorf("%s has already been stopped", name)
	}
	return fn()
}

// IfStarted runs fn only if the guard is currently in the started state,
// returning whether it ran.
func (s StartStopOnce) IfStarted(fn func()) bool {
	if !s.state.IsSet() {
		return false
	}
	fn()
	return true
}
