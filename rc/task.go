package rc

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/log2"
)

// stopTimeout bounds the join when stopping a control loop. A loop that
// does not exit within this window is abandoned with an error logged.
const stopTimeout = 3 * time.Second

// Task is one running control loop bound to one station. It implements
// ap.ControlTask so the device model can pause or stop it on
// disassociation without importing this package.
type Task struct {
	Station *ap.Station
	Log     *log2.Log

	// Ctx is whatever the algorithm's Configure returned.
	Ctx interface{}

	name  string
	alg   Algorithm
	alive *alive.Alive
}

var _ ap.ControlTask = &Task{}

func newTask(sta *ap.Station, name string, alg Algorithm, ctx interface{}, log *log2.Log) *Task {
	return &Task{
		Station: sta,
		Log:     log,
		Ctx:     ctx,
		name:    name,
		alg:     alg,
		alive:   alive.NewAlive(),
	}
}

func (t *Task) String() string { return "rc[" + t.name + " " + t.Station.MAC() + "]" }

// StopChan is closed when the task must wind down. Algorithm Run loops
// select on it.
func (t *Task) StopChan() <-chan struct{} { return t.alive.StopChan() }

// Stopping reports whether a stop was requested.
func (t *Task) Stopping() bool { return !t.alive.IsRunning() }

// Sleep pauses the control loop, waking early on stop. Returns false
// when the task should exit.
func (t *Task) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.alive.StopChan():
		return false
	}
}

func (t *Task) start() {
	t.alive.Add(1)
	go t.loop()
}

func (t *Task) loop() {
	defer t.alive.Done()
	err := t.alg.Run(t)
	if err != nil && !t.Stopping() {
		t.Log.Errorf("%s: control loop failed: %v", t, err)
		// uncontrolled failure leaves the station without a controller;
		// the caller decides whether to fall back to kernel mode
		t.Station.ClearController()
	}
	t.alive.Stop()
}

// Stop cancels the loop and joins it, bounded by stopTimeout.
func (t *Task) Stop() {
	t.alive.Stop()
	select {
	case <-t.alive.WaitChan():
	case <-time.After(stopTimeout):
		t.Log.Errorf("%s: control loop did not stop within %s", t, stopTimeout)
	}
}

// Pause delegates to the algorithm's pause capability. While paused and
// still associated, the station is reverted to automatic modes so the
// device's own control applies. Fails with a not-supported error when
// the algorithm cannot pause.
func (t *Task) Pause() error {
	p, ok := t.alg.(Pauser)
	if !ok {
		return errors.NotSupportedf("algorithm %q: pause", t.name)
	}
	if err := p.Pause(t); err != nil {
		return errors.Trace(err)
	}
	if t.Station.Associated() {
		if err := t.Station.SetManualRCMode(false); err != nil {
			return errors.Trace(err)
		}
		if err := t.Station.SetManualTPCMode(false); err != nil {
			return errors.Trace(err)
		}
	}
	t.Station.SetControlPaused(true)
	return nil
}

// Resume delegates to the algorithm's resume capability.
func (t *Task) Resume() error {
	r, ok := t.alg.(Resumer)
	if !ok {
		return errors.NotSupportedf("algorithm %q: resume", t.name)
	}
	if err := r.Resume(t); err != nil {
		return errors.Trace(err)
	}
	t.Station.SetControlPaused(false)
	return nil
}
