package ap

import (
	"github.com/wlansys/orcactl/orca"
)

// Radio is one physical transceiver on an access point, announced during
// header bootstrap. Stations live in two disjoint buckets: active holds
// currently associated stations, inactive retains every station ever seen
// so late statistics and historical queries stay answerable.
//
// Radio fields are guarded by the owning AccessPoint's lock.
type Radio struct {
	Name       string
	Driver     string
	Interfaces []string
	Features   map[string]string
	TPCType    string
	TxPowers   []float64

	events   map[string]bool
	active   map[string]*Station
	inactive map[string]*Station
}

func newRadio(info *orca.RadioInfo) *Radio {
	r := &Radio{
		Name:       info.Name,
		Driver:     info.Driver,
		Interfaces: info.Interfaces,
		Features:   info.Features,
		TPCType:    info.TPCType,
		TxPowers:   info.TxPowers,
		events:     make(map[string]bool),
		active:     make(map[string]*Station),
		inactive:   make(map[string]*Station),
	}
	if r.Features == nil {
		r.Features = make(map[string]string)
	}
	for _, ev := range info.Events {
		r.events[ev] = true
	}
	return r
}

// update refreshes announced capabilities on re-bootstrap without touching
// the station buckets.
func (r *Radio) update(info *orca.RadioInfo) {
	r.Driver = info.Driver
	r.Interfaces = info.Interfaces
	r.TPCType = info.TPCType
	r.TxPowers = info.TxPowers
	if info.Features != nil {
		r.Features = info.Features
	}
	r.events = make(map[string]bool)
	for _, ev := range info.Events {
		r.events[ev] = true
	}
}

func (r *Radio) hasInterface(iface string) bool {
	for _, i := range r.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

func (r *Radio) station(mac string) *Station {
	if sta := r.active[mac]; sta != nil {
		return sta
	}
	return r.inactive[mac]
}

func (r *Radio) enabledEvents() []string {
	evs := make([]string, 0, len(r.events))
	for ev := range r.events {
		evs = append(evs, ev)
	}
	return evs
}
