package orca

// TimestampGate enforces per-connection monotonic timestamps. Devices
// occasionally emit corrupted or torn timestamp fields after clock
// glitches; a line whose timestamp is not strictly greater than the last
// accepted one, or whose hex width jumps by more than MaxWidthDelta
// digits, is rejected before any grammar validation.
//
// The width heuristic is a guard against truncated reads, not a protocol
// invariant; MaxWidthDelta is tunable for that reason.
type TimestampGate struct {
	last      uint64
	lastWidth int

	// MaxWidthDelta is the largest allowed change of the timestamp
	// field's hex-digit count between consecutive accepted lines.
	// Zero value means the default of 1.
	MaxWidthDelta int
}

// Accept decodes the raw timestamp field and updates the watermark iff the
// line passes the gate.
func (g *TimestampGate) Accept(field string) (uint64, bool) {
	ts, ok := parseHex(field)
	if !ok {
		return 0, false
	}
	if g.last == 0 {
		g.last = ts
		g.lastWidth = len(field)
		return ts, true
	}
	maxDelta := g.MaxWidthDelta
	if maxDelta == 0 {
		maxDelta = 1
	}
	delta := len(field) - g.lastWidth
	if delta < 0 {
		delta = -delta
	}
	if ts <= g.last || delta > maxDelta {
		return 0, false
	}
	g.last = ts
	g.lastWidth = len(field)
	return ts, true
}

// Reset clears the watermark, for reconnects where the device clock may
// have restarted.
func (g *TimestampGate) Reset() {
	g.last = 0
	g.lastWidth = 0
}

// Last returns the current watermark.
func (g *TimestampGate) Last() uint64 { return g.last }
