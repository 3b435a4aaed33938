package unlock

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/nightstudio/paywall/pkg/logger"
)

// Attempt states.
const (
	StateIdle                 = "idle"
	StateValidating           = "validating"
	StateShortCircuitUnlocked = "short_circuit_unlocked"
	StateSettling             = "settling"
	StateRecording            = "recording"
	StateUnlocked             = "unlocked"
	StateRecordFailed         = "record_failed"
	StateRejected             = "rejected"
)

const (
	eventValidate     = "validate"
	eventShortCircuit = "short_circuit"
	eventSettle       = "settle"
	eventRecord       = "record"
	eventRecorded     = "recorded"
	eventRecordFail   = "record_fail"
	eventReject       = "reject"
)

var attemptEvents = fsm.Events{
	{Name: eventValidate, Src: []string{StateIdle}, Dst: StateValidating},
	{Name: eventShortCircuit, Src: []string{StateValidating}, Dst: StateShortCircuitUnlocked},
	{Name: eventSettle, Src: []string{StateValidating}, Dst: StateSettling},
	{Name: eventReject, Src: []string{StateValidating, StateSettling}, Dst: StateRejected},
	{Name: eventRecord, Src: []string{StateSettling}, Dst: StateRecording},
	{Name: eventRecorded, Src: []string{StateRecording}, Dst: StateUnlocked},
	{Name: eventRecordFail, Src: []string{StateSettling, StateRecording}, Dst: StateRecordFailed},
}

// attempt tracks one unlock call through its lifecycle. The machine runs on
// a background context: caller cancellation must not strand an attempt
// between settlement and recording.
type attempt struct {
	machine *fsm.FSM
	log     *logrus.Entry
}

func newAttempt(log *logger.Logger, viewerID, postID string) *attempt {
	entry := log.WithField("viewer_id", viewerID).WithField("post_id", postID)
	return &attempt{
		log: entry,
		machine: fsm.NewFSM(StateIdle, attemptEvents, fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				entry.Debugf("unlock attempt %s -> %s", e.Src, e.Dst)
			},
		}),
	}
}

// fire advances the attempt. An event the current state does not accept
// leaves the state unchanged and is returned as an error.
func (a *attempt) fire(event string) error {
	from := a.machine.Current()
	if err := a.machine.Event(context.Background(), event); err != nil {
		a.log.WithError(err).Errorf("unlock attempt: %s not allowed from %s", event, from)
		return fmt.Errorf("unlock attempt %s from %s: %w", event, from, err)
	}
	return nil
}

func (a *attempt) can(event string) bool { return a.machine.Can(event) }

func (a *attempt) state() string { return a.machine.Current() }

// finished reports whether the attempt reached a state with no outgoing
// transitions.
func (a *attempt) finished() bool {
	switch a.state() {
	case StateShortCircuitUnlocked, StateUnlocked, StateRejected, StateRecordFailed:
		return true
	}
	return false
}
