package rc

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/orca"
)

const (
	rateCycleName            = "rate_cycle"
	rateCycleDefaultInterval = 1 * time.Second
	rateCyclePausePoll       = 100 * time.Millisecond
)

// OptIntervalMS selects the rate_cycle step interval.
const OptIntervalMS = "interval_ms"

// RateCycle is a demonstration algorithm: it walks the station's
// supported rate set, fixing one rate at a time. It exercises manual
// rate control, pause and resume.
type RateCycle struct{}

var _ Algorithm = RateCycle{}
var _ Pauser = RateCycle{}
var _ Resumer = RateCycle{}

type rateCycleCtx struct {
	interval time.Duration
	paused   uint32
}

func (rateCycleCtx) String() string { return rateCycleName }

func (RateCycle) Configure(sta *ap.Station, opts ap.ControlOptions) (interface{}, error) {
	interval := rateCycleDefaultInterval
	if ms, ok := optUint32(opts, OptIntervalMS); ok {
		if ms == 0 {
			return nil, errors.NotValidf("%s=0", OptIntervalMS)
		}
		interval = time.Duration(ms) * time.Millisecond
	}
	if err := sta.SetManualRCMode(true); err != nil {
		return nil, errors.Trace(err)
	}
	if err := sta.SetManualTPCMode(false); err != nil {
		return nil, errors.Trace(err)
	}
	return &rateCycleCtx{interval: interval}, nil
}

func (RateCycle) Run(task *Task) error {
	ctx := task.Ctx.(*rateCycleCtx)
	pos := 0
	for {
		if atomic.LoadUint32(&ctx.paused) != 0 {
			if !task.Sleep(rateCyclePausePoll) {
				return nil
			}
			continue
		}

		rates := task.Station.SupportedRates()
		if len(rates) == 0 {
			return errors.Errorf("%s: no supported rates", task.Station)
		}
		if pos >= len(rates) {
			pos = 0
		}
		err := task.Station.SetRates([]orca.RateIndex{rates[pos]}, []uint8{1})
		if err != nil {
			if task.Stopping() {
				return nil
			}
			// pause may have reverted the mode under us
			if atomic.LoadUint32(&ctx.paused) != 0 {
				continue
			}
			return errors.Trace(err)
		}
		pos++

		if !task.Sleep(ctx.interval) {
			return nil
		}
	}
}

func (RateCycle) Pause(task *Task) error {
	ctx := task.Ctx.(*rateCycleCtx)
	atomic.StoreUint32(&ctx.paused, 1)
	return nil
}

func (RateCycle) Resume(task *Task) error {
	ctx := task.Ctx.(*rateCycleCtx)
	if task.Station.Associated() {
		if err := task.Station.SetManualRCMode(true); err != nil {
			return errors.Trace(err)
		}
	}
	atomic.StoreUint32(&ctx.paused, 0)
	return nil
}

// RegisterBuiltins adds the algorithms shipped with this module.
func RegisterBuiltins(r *Registry) {
	r.Register(rateCycleName, RateCycle{})
}
