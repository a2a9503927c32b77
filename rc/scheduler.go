package rc

import (
	"reflect"

	"github.com/juju/errors"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/log2"
)

// Scheduler binds control loops to stations. Safe for concurrent use
// from different stations' paths; per-station calls are expected from
// one goroutine at a time (the owning AP's read loop or the operator).
type Scheduler struct {
	Log      *log2.Log
	registry *Registry
}

func NewScheduler(registry *Registry, log *log2.Log) *Scheduler {
	return &Scheduler{Log: log, registry: registry}
}

func (s *Scheduler) Registry() *Registry { return s.registry }

// Start puts the station under the named algorithm. Starting the
// currently bound algorithm with identical options is a no-op. Any
// previous loop is stopped and joined first. For KernelAlgorithm no task
// is spawned; the station reverts to automatic modes, with optional
// update/sample frequencies from opts.
func (s *Scheduler) Start(sta *ap.Station, name string, opts ap.ControlOptions) error {
	curName, curOpts := sta.Controller()
	if curName == name && reflect.DeepEqual(curOpts, opts) {
		return nil
	}
	if curName != "" {
		s.Stop(sta)
	}

	s.Log.Debugf("%s: start control algorithm %q opts=%v", sta, name, opts)

	if name == KernelAlgorithm {
		if err := s.startKernel(sta, opts); err != nil {
			return errors.Trace(err)
		}
		sta.SetController(name, opts, nil)
		return nil
	}

	alg, err := s.registry.Resolve(name)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, err := alg.Configure(sta, opts)
	if err != nil {
		return errors.Annotatef(err, "configure %q for %s", name, sta)
	}
	task := newTask(sta, name, alg, ctx, s.Log)
	sta.SetController(name, opts, task)
	task.start()
	return nil
}

func (s *Scheduler) startKernel(sta *ap.Station, opts ap.ControlOptions) error {
	update, uok := optUint32(opts, OptUpdateFreqHz)
	sample, sok := optUint32(opts, OptSampleFreqHz)
	if uok || sok {
		if !uok {
			update = sta.UpdateFreq()
		}
		if !sok {
			sample = sta.SampleFreq()
		}
		if err := sta.SetAutoRCModeFreqs(update, sample); err != nil {
			return errors.Trace(err)
		}
	} else if err := sta.SetManualRCMode(false); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sta.SetManualTPCMode(false))
}

// StartDefault reverts the station to kernel control with its announced
// default frequencies.
func (s *Scheduler) StartDefault(sta *ap.Station) error {
	return s.Start(sta, KernelAlgorithm, nil)
}

// Stop cancels the station's control loop, joins it and clears the
// bookkeeping. No-op when nothing is bound.
func (s *Scheduler) Stop(sta *ap.Station) {
	name, _ := sta.Controller()
	if name == "" {
		return
	}
	s.Log.Debugf("%s: stop control algorithm %q", sta, name)
	if task := sta.Task(); task != nil {
		task.Stop()
	}
	sta.ClearController()
}

// Pause suspends the station's control loop via the algorithm's pause
// capability. Kernel mode and capability-less algorithms fail with a
// not-supported error.
func (s *Scheduler) Pause(sta *ap.Station) error {
	task := sta.Task()
	if task == nil {
		name, _ := sta.Controller()
		return errors.NotSupportedf("algorithm %q: pause", name)
	}
	return errors.Trace(task.Pause())
}

// Resume continues a paused control loop.
func (s *Scheduler) Resume(sta *ap.Station) error {
	task := sta.Task()
	if task == nil {
		name, _ := sta.Controller()
		return errors.NotSupportedf("algorithm %q: resume", name)
	}
	return errors.Trace(task.Resume())
}

// optUint32 reads a numeric option, tolerating the types config
// decoding produces.
func optUint32(opts ap.ControlOptions, key string) (uint32, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case int:
		return uint32(v), true
	case int64:
		return uint32(v), true
	case uint32:
		return v, true
	case float64:
		return uint32(v), true
	}
	return 0, false
}
