package ap

import (
	"sync"

	"github.com/wlansys/orcactl/orca"
)

// RateCell is one (rate, power) statistics slot: cumulative transmission
// attempts and successes plus the device timestamp of the last update.
type RateCell struct {
	Attempts  uint64
	Successes uint64
	Timestamp uint64
}

// RateStats is a dense per-station statistics table indexed by rate index
// and transmit power index. Column 0 aggregates over all powers and is
// queried with orca.PowerAuto; column p+1 holds power index p. The table
// never evicts, its lifetime is its station's.
type RateStats struct {
	mu      sync.RWMutex
	nPowers int
	cells   [][]RateCell
}

func NewRateStats(maxRate orca.RateIndex, nPowers int) *RateStats {
	t := &RateStats{nPowers: nPowers}
	t.cells = make([][]RateCell, int(maxRate)+1)
	for i := range t.cells {
		t.cells[i] = make([]RateCell, nPowers+1)
	}
	return t
}

// Update accumulates one MRR stage. power is a power index or
// orca.PowerAuto; the aggregate column is always updated so that
// controllers which ignore power see the total.
func (t *RateStats) Update(ts uint64, rate orca.RateIndex, power int, attempts, successes uint64) {
	if int(rate) >= len(t.cells) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.cells[rate]
	row[0].Attempts += attempts
	row[0].Successes += successes
	row[0].Timestamp = ts
	if power >= 0 && power < t.nPowers {
		row[power+1].Attempts += attempts
		row[power+1].Successes += successes
		row[power+1].Timestamp = ts
	}
}

// Query returns the cell for (rate, power), the aggregate cell for
// power=orca.PowerAuto, or a zero cell for anything out of range.
func (t *RateStats) Query(rate orca.RateIndex, power int) RateCell {
	if int(rate) >= len(t.cells) || power >= t.nPowers {
		return RateCell{}
	}
	col := 0
	if power >= 0 {
		col = power + 1
	} else if power != orca.PowerAuto {
		return RateCell{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cells[rate][col]
}

// Reset zeroes every cell in place.
func (t *RateStats) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.cells {
		for i := range row {
			row[i] = RateCell{}
		}
	}
}
