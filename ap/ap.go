// Package ap is the device model: the AccessPoint / Radio / Station
// hierarchy, the per-AP rate group catalog and the per-station rate
// statistics. It consumes decoded protocol events and issues commands
// over the attached transport; connection supervision lives elsewhere.
package ap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/wlansys/orcactl/log2"
	"github.com/wlansys/orcactl/orca"
)

// State is the per-connection lifecycle of an access point.
type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateBootstrap
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBootstrap:
		return "bootstrap"
	case StateStreaming:
		return "streaming"
	}
	return "disconnected"
}

// AccessPoint models one remote device running ORCA-RCD. The object is
// created at configuration time and persists across reconnects; only the
// transport handle and derived state are replaced. The device need not be
// an access point in the IEEE 802.11 sense, any device speaking the
// control protocol fits.
type AccessPoint struct {
	Name string
	Addr string
	Log  *log2.Log

	mu          sync.Mutex
	conn        *orca.Conn
	state       State
	gate        orca.TimestampGate
	groups      map[orca.GroupIndex]*orca.GroupInfo
	maxRate     orca.RateIndex
	sampleTable [][]int
	radios      map[string]*Radio
	lastCmd     string
}

func New(name, addr string, log *log2.Log) *AccessPoint {
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, orca.DefaultPort)
	}
	return &AccessPoint{
		Name:   name,
		Addr:   addr,
		Log:    log,
		groups: make(map[orca.GroupIndex]*orca.GroupInfo),
		radios: make(map[string]*Radio),
	}
}

func (ap *AccessPoint) String() string {
	return fmt.Sprintf("AP[name=%s addr=%s]", ap.Name, ap.Addr)
}

func (ap *AccessPoint) State() State {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.state
}

func (ap *AccessPoint) Conn() *orca.Conn {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.conn
}

// Gate exposes the monotonic timestamp gate for the codec. Only the
// supervisor's read loop may use it.
func (ap *AccessPoint) Gate() *orca.TimestampGate { return &ap.gate }

// SetConnecting marks the start of a connection attempt.
func (ap *AccessPoint) SetConnecting() {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.state = StateConnecting
}

// AttachConn installs a fresh transport and enters header bootstrap. The
// timestamp gate resets because the device clock may have restarted.
func (ap *AccessPoint) AttachConn(conn *orca.Conn) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.conn = conn
	ap.state = StateBootstrap
	ap.gate.Reset()
	ap.Log.Debugf("%s: connected at %s", ap.Name, ap.Addr)
}

// SetStreaming marks header bootstrap as complete.
func (ap *AccessPoint) SetStreaming() {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.state = StateStreaming
}

// HandleDisconnect drops the transport and disassociates every active
// station. Stations keep their statistics in the inactive buckets; their
// control tasks are paused or stopped according to their policy.
func (ap *AccessPoint) HandleDisconnect() {
	ap.mu.Lock()
	ap.conn = nil
	ap.state = StateDisconnected
	var stas []*Station
	for _, r := range ap.radios {
		for mac, sta := range r.active {
			delete(r.active, mac)
			r.inactive[mac] = sta
			stas = append(stas, sta)
		}
	}
	ap.mu.Unlock()

	for _, sta := range stas {
		ap.teardownStation(sta)
	}
}

func (ap *AccessPoint) teardownStation(sta *Station) {
	task, pause := sta.disassociate()
	if task == nil {
		// taskless (kernel-delegated) bookkeeping does not survive
		// disassociation: the next association binds a controller anew
		sta.ClearController()
		return
	}
	if pause {
		if err := task.Pause(); err != nil {
			ap.Log.Errorf("%s: pause control of %s: %v", ap.Name, sta, err)
		}
		sta.SetControlPaused(true)
	} else {
		task.Stop()
		sta.ClearController()
	}
}

// Send writes one command line as "radio;cmd;args...". radio "*"
// addresses all radios, anything else must be a known radio name.
func (ap *AccessPoint) Send(radio string, parts ...string) error {
	cmd := strings.Join(parts, ";")
	ap.mu.Lock()
	conn := ap.conn
	if radio != "*" && ap.radios[radio] == nil {
		ap.mu.Unlock()
		return errors.NotFoundf("%s: radio %q", ap.Name, radio)
	}
	ap.lastCmd = radio + ";" + cmd
	ap.mu.Unlock()

	if conn == nil {
		return errors.Errorf("%s: not connected, cannot send %q", ap.Name, cmd)
	}
	return errors.Trace(conn.Send(radio + ";" + cmd))
}

// LastCommand returns the most recently sent command, for correlating
// device error lines.
func (ap *AccessPoint) LastCommand() string {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.lastCmd
}

// ApplyHeaderLine processes one line of the API header during bootstrap.
// The caller classifies lines first; a non-header line must not be passed
// here.
func (ap *AccessPoint) ApplyHeaderLine(line string) error {
	fields := strings.Split(line, ";")
	switch orca.ClassifyHeader(line) {
	case orca.HeaderComment:
		return nil

	case orca.HeaderAPI:
		switch fields[2] {
		case "orca_version":
			return errors.Trace(orca.ParseVersion(fields))
		case "group":
			g, err := orca.ParseGroup(fields)
			if err != nil {
				return errors.Trace(err)
			}
			ap.addGroup(g)
			return nil
		case "sample_table":
			rows, err := orca.ParseSampleTable(fields)
			if err != nil {
				return errors.Trace(err)
			}
			ap.mu.Lock()
			ap.sampleTable = rows
			ap.mu.Unlock()
			return nil
		}
		return errors.NotValidf("unknown api line type %q", fields[2])

	case orca.HeaderRadio:
		info, err := orca.ParseRadio(fields)
		if err != nil {
			return errors.Trace(err)
		}
		ap.addRadio(info)
		return nil

	case orca.HeaderSta:
		s := orca.ParseSta(fields)
		if s == nil {
			return errors.NotValidf("station dump line %q", line)
		}
		ap.applySta(fields[0], 0, s)
		return nil
	}
	return errors.NotValidf("header line %q", line)
}

func (ap *AccessPoint) addGroup(g *orca.GroupInfo) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.groups[g.Index] = g
	if max := orca.RateIndex(uint16(g.Index)<<4 | uint16(g.MaxOffset())); max > ap.maxRate {
		ap.maxRate = max
	}
}

// Group returns a rate group from the catalog.
func (ap *AccessPoint) Group(idx orca.GroupIndex) (*orca.GroupInfo, bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	g, ok := ap.groups[idx]
	return g, ok
}

// Airtime resolves a rate index to its expected airtime in nanoseconds
// via the group catalog.
func (ap *AccessPoint) Airtime(rate orca.RateIndex) (uint64, bool) {
	ap.mu.Lock()
	g, ok := ap.groups[rate.Group()]
	ap.mu.Unlock()
	if !ok {
		return 0, false
	}
	return g.Airtime(int(rate.Offset()))
}

func (ap *AccessPoint) SampleTable() [][]int {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.sampleTable
}

func (ap *AccessPoint) addRadio(info *orca.RadioInfo) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if r := ap.radios[info.Name]; r != nil {
		r.update(info)
		return
	}
	ap.Log.Debugf("%s: adding radio %s driver=%s interfaces=%v events=%v",
		ap.Name, info.Name, info.Driver, info.Interfaces, info.Events)
	ap.radios[info.Name] = newRadio(info)
}

// Radio returns a radio by name.
func (ap *AccessPoint) Radio(name string) (*Radio, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	r := ap.radios[name]
	if r == nil {
		return nil, errors.NotFoundf("%s: radio %q", ap.Name, name)
	}
	return r, nil
}

// RadioNames lists announced radios.
func (ap *AccessPoint) RadioNames() []string {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	names := make([]string, 0, len(ap.radios))
	for name := range ap.radios {
		names = append(names, name)
	}
	return names
}

// RadioForInterface returns the radio running the given virtual
// interface.
func (ap *AccessPoint) RadioForInterface(iface string) (*Radio, bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for _, r := range ap.radios {
		if r.hasInterface(iface) {
			return r, true
		}
	}
	return nil, false
}

// Station finds a station by MAC on any radio, searching active then
// inactive buckets.
func (ap *AccessPoint) Station(mac string) *Station {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for _, r := range ap.radios {
		if sta := r.station(mac); sta != nil {
			return sta
		}
	}
	return nil
}

// ActiveStations lists currently associated stations across all radios.
func (ap *AccessPoint) ActiveStations() []*Station {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	var stas []*Station
	for _, r := range ap.radios {
		for _, sta := range r.active {
			stas = append(stas, sta)
		}
	}
	return stas
}

// Stations lists every station ever seen, active and inactive.
func (ap *AccessPoint) Stations() []*Station {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	var stas []*Station
	for _, r := range ap.radios {
		for _, sta := range r.active {
			stas = append(stas, sta)
		}
		for _, sta := range r.inactive {
			stas = append(stas, sta)
		}
	}
	return stas
}

// HandleEvent applies one validated steady-state event to the model.
// Events for unknown radios or stations are dropped; this is a
// best-effort telemetry stream.
func (ap *AccessPoint) HandleEvent(ev *orca.Event) {
	switch ev.Kind {
	case orca.KindTxs:
		if sta := ap.Station(ev.Txs.MAC); sta != nil {
			sta.updateFromTxs(ev.Timestamp, ev.Txs)
		}
	case orca.KindRxs:
		if sta := ap.Station(ev.Rxs.MAC); sta != nil {
			sta.updateRSSI(ev.Timestamp, ev.Rxs.MinRSSI, ev.Rxs.Antenna[:ev.Rxs.NAntenna])
		}
	case orca.KindSta:
		ap.applySta(ev.Radio, ev.Timestamp, ev.Sta)
	case orca.KindError:
		ap.Log.Errorf("%s: device error %q, last command %q", ap.Name, ev.Err, ap.LastCommand())
	}
}

// applySta handles sta add/update/remove from both header dumps and the
// steady-state stream.
func (ap *AccessPoint) applySta(radioName string, ts uint64, s *orca.Sta) {
	ap.mu.Lock()
	r := ap.radios[radioName]
	if r == nil {
		ap.mu.Unlock()
		ap.Log.Debugf("%s: sta %s on unknown radio %q", ap.Name, s.MAC, radioName)
		return
	}

	if s.Action == orca.StaRemove {
		sta := r.active[s.MAC]
		if sta == nil {
			ap.mu.Unlock()
			return
		}
		delete(r.active, s.MAC)
		r.inactive[s.MAC] = sta
		ap.mu.Unlock()
		ap.Log.Debugf("%s:%s: removing %s", ap.Name, radioName, sta)
		ap.teardownStation(sta)
		return
	}

	rates, airtimes := ap.decodeMasksLocked(s.GroupMasks)

	// an existing station revives with its statistics; the rate set may
	// have changed while it was away
	for _, other := range ap.radios {
		sta := other.station(s.MAC)
		if sta == nil {
			continue
		}
		delete(other.active, s.MAC)
		delete(other.inactive, s.MAC)
		r.active[s.MAC] = sta
		ap.mu.Unlock()

		sta.setSupportedRates(rates, airtimes)
		sta.refreshAnnounce(s)
		sta.associate(radioName, s.Iface, ts)
		if sta.ControlPaused() {
			if task := sta.Task(); task != nil {
				if err := task.Resume(); err != nil {
					ap.Log.Errorf("%s: resume control of %s: %v", ap.Name, sta, err)
				}
			}
			sta.SetControlPaused(false)
		}
		return
	}

	if s.Action == orca.StaUpdate {
		// update for a station we never saw: treat as add
		ap.Log.Debugf("%s:%s: sta update for unknown %s", ap.Name, radioName, s.MAC)
	}

	sta := &Station{
		ap:             ap,
		mac:            s.MAC,
		radio:          radioName,
		iface:          s.Iface,
		associated:     true,
		rcMode:         s.RCMode,
		tpcMode:        s.TPCMode,
		updateFreq:     s.UpdateFreq,
		sampleFreq:     s.SampleFreq,
		overheadMCS:    s.OverheadMCS,
		overheadLegacy: s.OverheadLegacy,
		supportedRates: rates,
		airtimesNS:     airtimes,
		txPowers:       r.TxPowers,
		lastSeen:       ts,
		stats:          NewRateStats(ap.maxRate, len(r.TxPowers)),
	}
	r.active[s.MAC] = sta
	ap.mu.Unlock()
	ap.Log.Debugf("%s:%s: adding %s rc=%s tpc=%s rates=%d",
		ap.Name, radioName, sta, s.RCMode, s.TPCMode, len(rates))
}

// decodeMasksLocked turns the per-group supported-rate bitmasks into
// concrete rate indices with airtimes. Mask position i refers to group
// index i; masks for groups missing from the catalog are skipped.
func (ap *AccessPoint) decodeMasksLocked(masks []uint16) ([]orca.RateIndex, []uint64) {
	var rates []orca.RateIndex
	var airtimes []uint64
	for i, mask := range masks {
		g, ok := ap.groups[orca.GroupIndex(i)]
		if !ok {
			continue
		}
		for ofs := 0; ofs <= g.MaxOffset(); ofs++ {
			if mask&(1<<uint(ofs)) == 0 {
				continue
			}
			rates = append(rates, orca.RateIndex(uint16(i)<<4|uint16(ofs)))
			at, _ := g.Airtime(ofs)
			airtimes = append(airtimes, at)
		}
	}
	return rates, airtimes
}

// EnableEvents turns on the given monitor events. radio "*" addresses all
// radios.
func (ap *AccessPoint) EnableEvents(radio string, events ...string) error {
	if err := ap.forEventRadios(radio, func(r *Radio) {
		for _, ev := range events {
			r.events[ev] = true
		}
	}); err != nil {
		return errors.Trace(err)
	}
	ap.Log.Debugf("%s:%s: enable events %v", ap.Name, radio, events)
	return errors.Trace(ap.Send(radio, append([]string{"start"}, events...)...))
}

// DisableEvents turns off the given monitor events.
func (ap *AccessPoint) DisableEvents(radio string, events ...string) error {
	if err := ap.forEventRadios(radio, func(r *Radio) {
		for _, ev := range events {
			delete(r.events, ev)
		}
	}); err != nil {
		return errors.Trace(err)
	}
	ap.Log.Debugf("%s:%s: disable events %v", ap.Name, radio, events)
	return errors.Trace(ap.Send(radio, append([]string{"stop"}, events...)...))
}

func (ap *AccessPoint) forEventRadios(radio string, f func(*Radio)) error {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if radio == "*" {
		for _, r := range ap.radios {
			f(r)
		}
		return nil
	}
	r := ap.radios[radio]
	if r == nil {
		return errors.NotFoundf("%s: radio %q", ap.Name, radio)
	}
	f(r)
	return nil
}

// EnabledEvents lists the monitor events currently on for a radio.
func (ap *AccessPoint) EnabledEvents(radio string) ([]string, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	r := ap.radios[radio]
	if r == nil {
		return nil, errors.NotFoundf("%s: radio %q", ap.Name, radio)
	}
	return r.enabledEvents(), nil
}

// DumpStations asks the device to re-announce associated stations.
func (ap *AccessPoint) DumpStations(radio string) error {
	return errors.Trace(ap.Send(radio, "dump"))
}

// FeatureState returns a radio feature's current setting.
func (ap *AccessPoint) FeatureState(radio, feature string) (string, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	r := ap.radios[radio]
	if r == nil {
		return "", errors.NotFoundf("%s: radio %q", ap.Name, radio)
	}
	val, ok := r.Features[feature]
	if !ok {
		return "", errors.NotSupportedf("%s:%s: feature %q", ap.Name, radio, feature)
	}
	return val, nil
}

// SetFeature configures a radio feature. Unknown radios and unsupported
// features fail synchronously; setting the current value is a no-op.
func (ap *AccessPoint) SetFeature(radio, feature, value string) error {
	ap.mu.Lock()
	r := ap.radios[radio]
	if r == nil {
		ap.mu.Unlock()
		return errors.NotFoundf("%s: radio %q", ap.Name, radio)
	}
	old, ok := r.Features[feature]
	if !ok {
		ap.mu.Unlock()
		return errors.NotSupportedf("%s:%s: feature %q", ap.Name, radio, feature)
	}
	if old == value {
		ap.mu.Unlock()
		return nil
	}
	r.Features[feature] = value
	ap.mu.Unlock()
	return errors.Trace(ap.Send(radio, "set_feature", feature, value))
}

// DebugfsSet writes a value to the device's debugfs under the radio's
// ieee80211 directory. The path must be relative and must not escape.
func (ap *AccessPoint) DebugfsSet(radio, path, value string) error {
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return errors.NotValidf("debugfs path %q", path)
	}
	ap.Log.Debugf("%s:%s: debugfs set %s=%s", ap.Name, radio, path, value)
	return errors.Trace(ap.Send(radio, "debugfs", path, value))
}

// ResetKernelStats resets the in-kernel statistics for one station MAC or
// "all".
func (ap *AccessPoint) ResetKernelStats(radio, mac string) error {
	ap.Log.Debugf("%s:%s:%s: resetting in-kernel rate statistics", ap.Name, radio, mac)
	return errors.Trace(ap.Send(radio, "reset_stats", mac))
}

// SetAllStationsRCMode sets the rate control mode for every associated
// station of the radio ("*" for all radios) with one command.
func (ap *AccessPoint) SetAllStationsRCMode(radio string, mode orca.Mode) error {
	return ap.setAllStationsMode(radio, "rc_mode", mode)
}

// SetAllStationsTPCMode sets the power control mode for every associated
// station of the radio ("*" for all radios) with one command.
func (ap *AccessPoint) SetAllStationsTPCMode(radio string, mode orca.Mode) error {
	return ap.setAllStationsMode(radio, "tpc_mode", mode)
}

func (ap *AccessPoint) setAllStationsMode(radio, which string, mode orca.Mode) error {
	ap.Log.Debugf("%s:%s: setting %s for all stations to %s", ap.Name, radio, which, mode)
	if err := ap.Send(radio, which, "all", mode.String()); err != nil {
		return errors.Trace(err)
	}
	ap.mu.Lock()
	var stas []*Station
	for name, r := range ap.radios {
		if radio != "*" && name != radio {
			continue
		}
		for _, sta := range r.active {
			stas = append(stas, sta)
		}
	}
	ap.mu.Unlock()
	for _, sta := range stas {
		sta.mu.Lock()
		if which == "rc_mode" {
			sta.rcMode = mode
		} else {
			sta.tpcMode = mode
		}
		sta.mu.Unlock()
	}
	return nil
}

// EnableTPRCEcho toggles echoing of rc and tpc commands as events, useful
// for debugging.
func (ap *AccessPoint) EnableTPRCEcho(radio string, enable bool) error {
	action := "stop"
	if enable {
		action = "start"
	}
	return errors.Trace(ap.Send(radio, action, "tprc_echo"))
}
