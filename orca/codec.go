package orca

import (
	"strings"
)

// Kind classifies an accepted steady-state line.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTxs
	KindRxs
	KindStats
	KindSta
	KindBestRates
	KindSampleRates
	KindCmdEcho
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTxs:
		return "txs"
	case KindRxs:
		return "rxs"
	case KindStats:
		return "stats"
	case KindSta:
		return "sta"
	case KindBestRates:
		return "best_rates"
	case KindSampleRates:
		return "sample_rates"
	case KindCmdEcho:
		return "cmd"
	case KindError:
		return "error"
	}
	return "invalid"
}

// MRRStage is one stage of the 4-stage multi-rate-retry chain in a txs
// event. Ok is false for absent stages; Power is PowerAuto when the device
// did not report a power index.
type MRRStage struct {
	Rate  RateIndex
	Count uint8
	Power int
	Ok    bool
}

// Txs reports the outcome of one (aggregate) transmission.
type Txs struct {
	MAC       string
	NumFrames uint32
	NumAck    uint32
	Probe     bool
	Stages    [4]MRRStage
}

// Attempts returns per-stage attempt counts: frames times per-stage retry
// count, zero for absent stages.
func (t *Txs) Attempts() [4]uint64 {
	var a [4]uint64
	for i, st := range t.Stages {
		if st.Ok {
			a[i] = uint64(t.NumFrames) * uint64(st.Count)
		}
	}
	return a
}

// Successes distributes NumAck onto the stage that delivered: the last
// stage with non-zero attempts before the first zero-attempt stage, or
// stage 0 if even the first stage has none.
func (t *Txs) Successes() [4]uint64 {
	attempts := t.Attempts()
	idx := len(attempts) - 1
	for i, a := range attempts {
		if a == 0 {
			idx = i - 1
			break
		}
	}
	if idx < 0 {
		idx = 0
	}
	var s [4]uint64
	s[idx] = uint64(t.NumAck)
	return s
}

// Rxs reports received signal strength.
type Rxs struct {
	MAC      string
	MinRSSI  int32
	Antenna  [4]int32
	NAntenna int
}

// Stats carries the device-computed aggregate counters of a stats event.
// The fields are passed through to observers undecoded beyond hex.
type Stats struct {
	MAC    string
	Values [7]uint64
}

type StaAction uint8

const (
	StaAdd StaAction = iota
	StaUpdate
	StaRemove
)

func (a StaAction) String() string {
	switch a {
	case StaAdd:
		return "add"
	case StaUpdate:
		return "update"
	}
	return "remove"
}

// Sta describes a station association event. GroupMasks holds one
// supported-rate bitmask per rate group, in catalog order; decoding masks
// into rate indices requires the group catalog from the API header.
type Sta struct {
	Action         StaAction
	MAC            string
	Iface          string
	RCMode         Mode
	TPCMode        Mode
	OverheadMCS    uint32
	OverheadLegacy uint32
	UpdateFreq     uint32
	SampleFreq     uint32
	GroupMasks     []uint16
}

// RateList is the payload of best_rates and sample_rates events.
type RateList struct {
	MAC     string
	Indices []RateIndex
}

// CmdEcho is the device echoing back a command it executed.
type CmdEcho struct {
	Command string
	Args    []string
}

// Event is one validated line. Exactly one of the payload pointers is set,
// matching Kind. Fields is the raw ';' split for observers that want it.
type Event struct {
	Kind      Kind
	Radio     string
	Timestamp uint64
	Raw       string
	Fields    []string

	Txs   *Txs
	Rxs   *Rxs
	Stats *Stats
	Sta   *Sta
	Rates *RateList
	Cmd   *CmdEcho
	Err   string
}

// commands the device echoes back; anything else with an unknown type
// field is dropped.
var echoCommands = map[string]bool{
	"start":           true,
	"stop":            true,
	"set_rates":       true,
	"set_power":       true,
	"set_rates_power": true,
	"reset_stats":     true,
	"rc_mode":         true,
	"tpc_mode":        true,
	"set_probe":       true,
}

const tsWidth = 16

// Parse validates and decodes one steady-state line. The boolean result
// is false for any rejected line: wrong field count, failed grammar,
// unknown type, or a timestamp refused by the gate. Rejection never
// produces an error; the stream is best effort.
//
// The gate is applied before grammar validation and is bypassed for
// reset_stats echoes (the device emits those with a restarted clock) and
// for '*'-prefixed error lines (their timestamp field is a literal 0).
func Parse(line string, gate *TimestampGate) (*Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ";")
	if len(fields) < 3 {
		return nil, false
	}

	if fields[0] == "*" {
		if fields[2] != "#error" {
			return nil, false
		}
		ev := &Event{Kind: KindError, Radio: fields[0], Raw: line, Fields: fields}
		ev.Err = strings.Join(fields[3:], ";")
		return ev, true
	}

	var ts uint64
	if gate != nil && fields[2] != "reset_stats" {
		var ok bool
		if ts, ok = gate.Accept(fields[1]); !ok {
			return nil, false
		}
	} else {
		ts, _ = parseHex(fields[1])
	}

	if !isName(fields[0]) || !isHexN(fields[1], tsWidth, tsWidth) {
		return nil, false
	}

	ev := &Event{Radio: fields[0], Timestamp: ts, Raw: line, Fields: fields}
	switch fields[2] {
	case "txs":
		if ev.Txs = parseTxs(fields); ev.Txs == nil {
			return nil, false
		}
		ev.Kind = KindTxs
	case "rxs":
		if ev.Rxs = parseRxs(fields); ev.Rxs == nil {
			return nil, false
		}
		ev.Kind = KindRxs
	case "stats":
		if ev.Stats = parseStats(fields); ev.Stats == nil {
			return nil, false
		}
		ev.Kind = KindStats
	case "sta":
		if ev.Sta = ParseSta(fields); ev.Sta == nil {
			return nil, false
		}
		ev.Kind = KindSta
	case "best_rates":
		if ev.Rates = parseRateList(fields, 5); ev.Rates == nil {
			return nil, false
		}
		ev.Kind = KindBestRates
	case "sample_rates":
		if ev.Rates = parseRateList(fields, 15); ev.Rates == nil {
			return nil, false
		}
		ev.Kind = KindSampleRates
	default:
		if !echoCommands[fields[2]] {
			return nil, false
		}
		ev.Kind = KindCmdEcho
		ev.Cmd = &CmdEcho{Command: fields[2], Args: fields[3:]}
	}
	return ev, true
}

// txs: mac;num_frames;num_ack;probe;(rate,count,power){4}
func parseTxs(fields []string) *Txs {
	if len(fields) != 11 {
		return nil
	}
	if !isMAC(fields[3]) || !isHexN(fields[4], 1, 2) || !isHexN(fields[5], 1, 2) {
		return nil
	}
	if fields[6] != "0" && fields[6] != "1" {
		return nil
	}
	t := &Txs{MAC: fields[3], Probe: fields[6] == "1"}
	nf, _ := parseHex(fields[4])
	na, _ := parseHex(fields[5])
	t.NumFrames = uint32(nf)
	t.NumAck = uint32(na)
	for i := 0; i < 4; i++ {
		triple := strings.Split(fields[7+i], ",")
		if len(triple) != 3 {
			return nil
		}
		for _, f := range triple {
			if !isHexN(f, 0, 4) {
				return nil
			}
		}
		st := &t.Stages[i]
		st.Power = PowerAuto
		if triple[0] == "" {
			continue
		}
		rate, ok := ParseRateIndex(triple[0])
		if !ok {
			return nil
		}
		st.Rate = rate
		st.Ok = true
		if triple[1] != "" {
			c, _ := parseHex(triple[1])
			st.Count = uint8(c)
		}
		if triple[2] != "" {
			p, _ := parseHex(triple[2])
			st.Power = int(p)
		}
	}
	return t
}

// rxs: mac;min_rssi;rssi0..rssi3, signed fields, empty antennas allowed
func parseRxs(fields []string) *Rxs {
	if len(fields) != 9 {
		return nil
	}
	if !isMAC(fields[3]) {
		return nil
	}
	min, ok := parseS32(fields[4])
	if !ok {
		return nil
	}
	r := &Rxs{MAC: fields[3], MinRSSI: min}
	for i, f := range fields[5:9] {
		if f == "" {
			continue
		}
		v, ok := parseS32(f)
		if !ok {
			return nil
		}
		r.Antenna[i] = v
		r.NAntenna = i + 1
	}
	return r
}

func parseStats(fields []string) *Stats {
	if len(fields) != 11 {
		return nil
	}
	if !isMAC(fields[3]) {
		return nil
	}
	s := &Stats{MAC: fields[3]}
	for i, f := range fields[4:11] {
		v, ok := parseHex(f)
		if !ok {
			return nil
		}
		s.Values[i] = v
	}
	return s
}

// staMaskFields is the fixed tail of a sta;add/update line: overhead_mcs,
// overhead_legacy, update_freq, sample_freq followed by 40 per-group
// supported-rate masks.
const staMaskFields = 44

// ParseSta validates the tail of a sta line. Exported because header
// bootstrap reuses it for station dump lines, which carry a zero
// timestamp and therefore never pass the steady-state grammar.
func ParseSta(fields []string) *Sta {
	if len(fields) < 5 || fields[2] != "sta" {
		return nil
	}
	switch fields[3] {
	case "remove":
		if !isMAC(fields[4]) {
			return nil
		}
		return &Sta{Action: StaRemove, MAC: fields[4]}
	case "add", "update", "dump":
	default:
		return nil
	}

	if len(fields) != 8+staMaskFields {
		return nil
	}
	if !isMAC(fields[4]) || !isName(fields[5]) {
		return nil
	}
	rcMode, ok := parseMode(fields[6])
	if !ok {
		return nil
	}
	tpcMode, ok := parseMode(fields[7])
	if !ok {
		return nil
	}
	s := &Sta{
		Action:  StaAdd,
		MAC:     fields[4],
		Iface:   fields[5],
		RCMode:  rcMode,
		TPCMode: tpcMode,
	}
	if fields[3] == "update" {
		s.Action = StaUpdate
	}
	var head [4]uint32
	for i := 0; i < 4; i++ {
		v, ok := parseHex(fields[8+i])
		if !ok || len(fields[8+i]) > 3 {
			return nil
		}
		head[i] = uint32(v)
	}
	s.OverheadMCS, s.OverheadLegacy = head[0], head[1]
	s.UpdateFreq, s.SampleFreq = head[2], head[3]
	for _, f := range fields[12:] {
		v, ok := parseHex(f)
		if !ok || len(f) > 3 {
			return nil
		}
		s.GroupMasks = append(s.GroupMasks, uint16(v))
	}
	return s
}

func parseRateList(fields []string, n int) *RateList {
	if len(fields) != 4+n {
		return nil
	}
	if !isMAC(fields[3]) {
		return nil
	}
	rl := &RateList{MAC: fields[3]}
	for _, f := range fields[4:] {
		r, ok := ParseRateIndex(f)
		if !ok {
			return nil
		}
		rl.Indices = append(rl.Indices, r)
	}
	return rl
}
