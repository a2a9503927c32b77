package ap

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/juju/errors"

	"github.com/wlansys/orcactl/orca"
)

// ControlOptions is the opaque configuration blob a control algorithm
// receives. Compared with DeepEqual to detect redundant restarts.
type ControlOptions map[string]interface{}

// ControlTask is the scheduler-owned handle of a running control loop.
// Defined here so the device model can stop or pause a station's loop on
// disassociation without importing the scheduler.
type ControlTask interface {
	Pause() error
	Resume() error
	Stop()
}

// StationModeError reports a command that requires the station to be in a
// different rate or power control mode. Surfaced synchronously to the
// caller, never retried.
type StationModeError struct {
	MAC  string
	Need string
}

func (e *StationModeError) Error() string {
	return fmt.Sprintf("sta %s: requires %s", e.MAC, e.Need)
}

// IsStationMode reports whether err (or its cause) is a StationModeError.
func IsStationMode(err error) bool {
	_, ok := errors.Cause(err).(*StationModeError)
	return ok
}

// Station is one wireless client of a radio. It survives disassociation:
// sta;remove moves it to the radio's inactive bucket with statistics
// intact, a later sta;add revives the same object.
type Station struct {
	mu sync.Mutex
	ap *AccessPoint

	mac        string
	radio      string
	iface      string
	associated bool

	rcMode         orca.Mode
	tpcMode        orca.Mode
	updateFreq     uint32
	sampleFreq     uint32
	overheadMCS    uint32
	overheadLegacy uint32

	supportedRates []orca.RateIndex
	airtimesNS     []uint64
	txPowers       []float64

	lastSeen uint64
	minRSSI  int32
	rssi     []int32

	ampduPackets   uint64
	ampduSubframes uint64

	stats *RateStats

	// control loop bookkeeping, owned by the rc scheduler
	task            ControlTask
	ctlAlg          string
	ctlOpts         ControlOptions
	ctlPaused       bool
	pauseOnDisassoc bool
}

func (sta *Station) String() string { return "STA[" + sta.mac + "]" }

func (sta *Station) MAC() string               { return sta.mac }
func (sta *Station) AccessPoint() *AccessPoint { return sta.ap }

func (sta *Station) Radio() string {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.radio
}

func (sta *Station) Interface() string {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.iface
}

func (sta *Station) Associated() bool {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.associated
}

func (sta *Station) RCMode() orca.Mode {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.rcMode
}

func (sta *Station) TPCMode() orca.Mode {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.tpcMode
}

// UpdateFreq and SampleFreq are the kernel control loop frequencies in Hz
// as announced in the station's sta line.
func (sta *Station) UpdateFreq() uint32 {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.updateFreq
}

func (sta *Station) SampleFreq() uint32 {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.sampleFreq
}

func (sta *Station) Overheads() (mcs, legacy uint32) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.overheadMCS, sta.overheadLegacy
}

func (sta *Station) LastSeen() uint64 {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.lastSeen
}

// RSSI returns the last minimum RSSI and the per-antenna values.
func (sta *Station) RSSI() (int32, []int32) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.minRSSI, append([]int32(nil), sta.rssi...)
}

// AMPDU returns the aggregate count, total subframes and the mean
// aggregate length so far.
func (sta *Station) AMPDU() (packets, subframes uint64, mean float64) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	if sta.ampduPackets > 0 {
		mean = float64(sta.ampduSubframes) / float64(sta.ampduPackets)
	}
	return sta.ampduPackets, sta.ampduSubframes, mean
}

func (sta *Station) SupportedRates() []orca.RateIndex {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return append([]orca.RateIndex(nil), sta.supportedRates...)
}

func (sta *Station) LowestSupportedRate() (orca.RateIndex, bool) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	if len(sta.supportedRates) == 0 {
		return 0, false
	}
	return sta.supportedRates[0], true
}

// SupportedPowers lists the radio's transmit power levels in dBm, empty
// when the radio has no power control.
func (sta *Station) SupportedPowers() []float64 {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return append([]float64(nil), sta.txPowers...)
}

// AirtimeNS returns the expected airtime of a supported rate.
func (sta *Station) AirtimeNS(rate orca.RateIndex) (uint64, bool) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	for i, r := range sta.supportedRates {
		if r == rate {
			return sta.airtimesNS[i], true
		}
	}
	return 0, false
}

func (sta *Station) Stats() *RateStats { return sta.stats }

func (sta *Station) supportsRate(rate orca.RateIndex) bool {
	for _, r := range sta.supportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// SetManualRCMode switches the station's rate control mode on the device.
// No-op when already in the requested mode.
func (sta *Station) SetManualRCMode(enable bool) error {
	sta.mu.Lock()
	mode := orca.ModeAuto
	if enable {
		mode = orca.ModeManual
	}
	if sta.rcMode == mode {
		sta.mu.Unlock()
		return nil
	}
	radio := sta.radio
	sta.mu.Unlock()

	if err := sta.ap.Send(radio, "rc_mode", sta.mac, mode.String()); err != nil {
		return errors.Trace(err)
	}
	sta.mu.Lock()
	sta.rcMode = mode
	sta.mu.Unlock()
	return nil
}

// SetAutoRCModeFreqs reverts to the device's own rate control with
// explicit update and sample frequencies in Hz.
func (sta *Station) SetAutoRCModeFreqs(updateHz, sampleHz uint32) error {
	sta.mu.Lock()
	radio := sta.radio
	sta.mu.Unlock()

	cmd := fmt.Sprintf("rc_mode;%s;auto;%x;%x", sta.mac, updateHz, sampleHz)
	if err := sta.ap.Send(radio, cmd); err != nil {
		return errors.Trace(err)
	}
	sta.mu.Lock()
	sta.rcMode = orca.ModeAuto
	sta.updateFreq = updateHz
	sta.sampleFreq = sampleHz
	sta.mu.Unlock()
	return nil
}

// SetManualTPCMode switches the station's power control mode.
func (sta *Station) SetManualTPCMode(enable bool) error {
	sta.mu.Lock()
	mode := orca.ModeAuto
	if enable {
		mode = orca.ModeManual
	}
	if sta.tpcMode == mode {
		sta.mu.Unlock()
		return nil
	}
	radio := sta.radio
	sta.mu.Unlock()

	if err := sta.ap.Send(radio, "tpc_mode", sta.mac, mode.String()); err != nil {
		return errors.Trace(err)
	}
	sta.mu.Lock()
	sta.tpcMode = mode
	sta.mu.Unlock()
	return nil
}

// SetRates installs a multi-rate-retry chain. Requires manual rate
// control mode.
func (sta *Station) SetRates(rates []orca.RateIndex, counts []uint8) error {
	if len(rates) != len(counts) {
		return errors.NotValidf("%d rates, %d counts", len(rates), len(counts))
	}
	sta.mu.Lock()
	if sta.rcMode != orca.ModeManual {
		sta.mu.Unlock()
		return &StationModeError{MAC: sta.mac, Need: "manual rate control mode to set rates"}
	}
	radio := sta.radio
	sta.mu.Unlock()

	parts := make([]string, 0, len(rates)+2)
	parts = append(parts, "set_rates", sta.mac)
	for i, r := range rates {
		parts = append(parts, fmt.Sprintf("%s,%d", r, counts[i]))
	}
	return errors.Trace(sta.ap.Send(radio, parts...))
}

// SetPower installs per-stage transmit power indices. Requires manual
// power control mode.
func (sta *Station) SetPower(powers []int) error {
	sta.mu.Lock()
	if sta.tpcMode != orca.ModeManual {
		sta.mu.Unlock()
		return &StationModeError{MAC: sta.mac, Need: "manual power control mode to set tx power"}
	}
	radio := sta.radio
	sta.mu.Unlock()

	parts := make([]string, 0, len(powers)+2)
	parts = append(parts, "set_power", sta.mac)
	for _, p := range powers {
		parts = append(parts, strconv.Itoa(p))
	}
	return errors.Trace(sta.ap.Send(radio, parts...))
}

// SetRatesAndPower installs a full rate/count/power chain. Requires both
// manual modes.
func (sta *Station) SetRatesAndPower(rates []orca.RateIndex, counts []uint8, powers []int) error {
	if len(rates) != len(counts) || len(rates) != len(powers) {
		return errors.NotValidf("%d rates, %d counts, %d powers", len(rates), len(counts), len(powers))
	}
	sta.mu.Lock()
	if sta.rcMode != orca.ModeManual || sta.tpcMode != orca.ModeManual {
		sta.mu.Unlock()
		return &StationModeError{
			MAC: sta.mac, Need: "manual rate and power control mode to set rates and tx power",
		}
	}
	radio := sta.radio
	sta.mu.Unlock()

	parts := make([]string, 0, len(rates)+2)
	parts = append(parts, "set_rates_power", sta.mac)
	for i, r := range rates {
		parts = append(parts, fmt.Sprintf("%s,%d,%d", r, counts[i], powers[i]))
	}
	return errors.Trace(sta.ap.Send(radio, parts...))
}

// SetProbeRate samples one rate. power orca.PowerAuto omits the power
// field. Requires manual rate control mode and a supported rate.
func (sta *Station) SetProbeRate(rate orca.RateIndex, count uint8, power int) error {
	sta.mu.Lock()
	if !sta.supportsRate(rate) {
		sta.mu.Unlock()
		return errors.NotValidf("cannot probe %s: not supported", rate)
	}
	if sta.rcMode != orca.ModeManual {
		sta.mu.Unlock()
		return &StationModeError{MAC: sta.mac, Need: "manual rate control mode to sample a rate"}
	}
	radio := sta.radio
	sta.mu.Unlock()

	arg := fmt.Sprintf("%s,%d", rate, count)
	if power != orca.PowerAuto {
		arg += "," + strconv.Itoa(power)
	}
	return errors.Trace(sta.ap.Send(radio, "set_probe", sta.mac, arg))
}

// ResetKernelStats resets the in-kernel counters for this station.
func (sta *Station) ResetKernelStats() error {
	sta.mu.Lock()
	radio := sta.radio
	sta.mu.Unlock()
	return errors.Trace(sta.ap.Send(radio, "reset_stats", sta.mac))
}

// updateFromTxs applies one transmission report: last-seen watermark,
// AMPDU counters and the per-stage rate statistics. Stages after the
// first absent rate are ignored, matching the device's chain semantics.
func (sta *Station) updateFromTxs(ts uint64, txs *orca.Txs) {
	sta.mu.Lock()
	if ts < sta.lastSeen {
		sta.mu.Unlock()
		return
	}
	sta.lastSeen = ts
	sta.ampduPackets++
	sta.ampduSubframes += uint64(txs.NumFrames)
	stats := sta.stats
	sta.mu.Unlock()

	attempts := txs.Attempts()
	successes := txs.Successes()
	for i, stage := range txs.Stages {
		if !stage.Ok {
			break
		}
		stats.Update(ts, stage.Rate, stage.Power, attempts[i], successes[i])
	}
}

func (sta *Station) updateRSSI(ts uint64, min int32, antenna []int32) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	if ts <= sta.lastSeen {
		return
	}
	sta.lastSeen = ts
	sta.minRSSI = min
	sta.rssi = antenna
}

// refreshAnnounce applies the mutable fields of a sta announcement to a
// revived station. The device-side modes and frequencies may have
// changed while the station was away.
func (sta *Station) refreshAnnounce(s *orca.Sta) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.rcMode = s.RCMode
	sta.tpcMode = s.TPCMode
	sta.updateFreq = s.UpdateFreq
	sta.sampleFreq = s.SampleFreq
	sta.overheadMCS = s.OverheadMCS
	sta.overheadLegacy = s.OverheadLegacy
}

// setSupportedRates replaces the rate set; the mask may have changed while
// the station was disassociated.
func (sta *Station) setSupportedRates(rates []orca.RateIndex, airtimes []uint64) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.supportedRates = rates
	sta.airtimesNS = airtimes
}

func (sta *Station) associate(radio, iface string, ts uint64) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.radio = radio
	sta.iface = iface
	sta.associated = true
	if ts > sta.lastSeen {
		sta.lastSeen = ts
	}
}

// disassociate flips the station inactive and hands back the task for the
// caller to stop or pause outside the lock.
func (sta *Station) disassociate() (ControlTask, bool) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.associated = false
	sta.iface = ""
	return sta.task, sta.pauseOnDisassoc
}

// Controller returns the currently bound algorithm name and options.
func (sta *Station) Controller() (string, ControlOptions) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.ctlAlg, sta.ctlOpts
}

// Task returns the running control task, nil for kernel mode or none.
func (sta *Station) Task() ControlTask {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.task
}

// SetController installs scheduler bookkeeping. task is nil for the
// kernel-delegated mode.
func (sta *Station) SetController(alg string, opts ControlOptions, task ControlTask) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.ctlAlg = alg
	sta.ctlOpts = opts
	sta.task = task
	sta.ctlPaused = false
}

// ClearController drops all control bookkeeping, leaving the station
// without a controller.
func (sta *Station) ClearController() {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.ctlAlg = ""
	sta.ctlOpts = nil
	sta.task = nil
	sta.ctlPaused = false
}

func (sta *Station) ControlPaused() bool {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.ctlPaused
}

func (sta *Station) SetControlPaused(paused bool) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.ctlPaused = paused
}

// PauseOnDisassoc selects whether the control loop is paused instead of
// stopped when the station disassociates, to be resumed on re-add.
func (sta *Station) PauseOnDisassoc() bool {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	return sta.pauseOnDisassoc
}

func (sta *Station) SetPauseOnDisassoc(pause bool) {
	sta.mu.Lock()
	defer sta.mu.Unlock()
	sta.pauseOnDisassoc = pause
}
