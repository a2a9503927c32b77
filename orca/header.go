package orca

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// UnsupportedVersionError is fatal for the announcing connection: the
// device speaks an API revision this codec does not.
type UnsupportedVersionError struct {
	Major, Minor uint64
}

func (e *UnsupportedVersionError) Error() string {
	return "unsupported orca API version " +
		strconv.FormatUint(e.Major, 10) + "." + strconv.FormatUint(e.Minor, 10) +
		" want " + strconv.Itoa(APIVersionMajor) + "." + strconv.Itoa(APIVersionMinor)
}

// IsUnsupportedVersion reports whether err (or its cause) is a version
// mismatch.
func IsUnsupportedVersion(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedVersionError)
	return ok
}

// HeaderKind classifies a line during header bootstrap.
type HeaderKind uint8

const (
	HeaderUnknown HeaderKind = iota
	HeaderComment
	HeaderAPI   // *;0;orca_version / group / sample_table
	HeaderRadio // <radio>;0;add;...
	HeaderSta   // <radio>;0;sta;...
)

// ClassifyHeader decides whether a line still belongs to the API header.
// The first line that is none of the header kinds ends bootstrap and must
// be replayed into steady-state processing.
func ClassifyHeader(line string) HeaderKind {
	switch {
	case strings.HasPrefix(line, "*;0;#"):
		return HeaderComment
	case strings.HasPrefix(line, "*;0;"):
		return HeaderAPI
	case strings.Contains(line, ";0;add;"):
		return HeaderRadio
	case strings.Contains(line, ";0;sta;"):
		return HeaderSta
	}
	return HeaderUnknown
}

// GroupInfo is one rate-group row of the API header. Airtimes are indexed
// by rate offset; their count determines the group's maximum offset and
// with it which bits of a station's group mask are decodable.
type GroupInfo struct {
	Index         GroupIndex
	Type          string
	NSS           uint8
	Bandwidth     uint8
	GuardInterval uint8
	AirtimesNS    []uint64
}

// MaxOffset returns the largest valid rate offset within the group.
func (g *GroupInfo) MaxOffset() int { return len(g.AirtimesNS) - 1 }

// Airtime returns the expected airtime in nanoseconds for the rate at the
// given offset.
func (g *GroupInfo) Airtime(offset int) (uint64, bool) {
	if offset < 0 || offset >= len(g.AirtimesNS) {
		return 0, false
	}
	return g.AirtimesNS[offset], true
}

// Rates lists the concrete rate indices of the group.
func (g *GroupInfo) Rates() []RateIndex {
	rs := make([]RateIndex, len(g.AirtimesNS))
	for i := range rs {
		rs[i] = RateIndex(uint16(g.Index)<<4 | uint16(i))
	}
	return rs
}

// ParseVersion checks an orca_version header line.
func ParseVersion(fields []string) error {
	if len(fields) < 5 {
		return errors.NotValidf("orca_version line %q", strings.Join(fields, ";"))
	}
	major, ok1 := parseHex(fields[3])
	minor, ok2 := parseHex(fields[4])
	if !ok1 || !ok2 {
		return errors.NotValidf("orca_version line %q", strings.Join(fields, ";"))
	}
	if major != APIVersionMajor || minor != APIVersionMinor {
		return &UnsupportedVersionError{Major: major, Minor: minor}
	}
	return nil
}

// ParseGroup decodes a group header line. Devices pad these lines with
// empty fields; they are ignored.
func ParseGroup(rawFields []string) (*GroupInfo, error) {
	fields := rawFields[:0:0]
	for _, f := range rawFields {
		if f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) < 10 {
		return nil, errors.NotValidf("group line %q", strings.Join(rawFields, ";"))
	}
	idx, ok := parseHex(fields[3])
	if !ok || len(fields[3]) > 2 {
		return nil, errors.NotValidf("group index %q", fields[3])
	}
	g := &GroupInfo{Index: GroupIndex(idx), Type: fields[5]}
	for i, dst := range []*uint8{&g.NSS, &g.Bandwidth, &g.GuardInterval} {
		v, ok := parseHex(fields[6+i])
		if !ok || v > 0xff {
			return nil, errors.NotValidf("group field %q", fields[6+i])
		}
		*dst = uint8(v)
	}
	for _, f := range fields[9:] {
		at, ok := parseHex(f)
		if !ok {
			return nil, errors.NotValidf("group airtime %q", f)
		}
		g.AirtimesNS = append(g.AirtimesNS, at)
	}
	if len(g.AirtimesNS) > 10 {
		return nil, errors.NotValidf("group %s: %d offsets", fields[3], len(g.AirtimesNS))
	}
	return g, nil
}

// ParseSampleTable decodes the precomputed candidate-rate table: rows of
// comma separated decimal numbers.
func ParseSampleTable(fields []string) ([][]int, error) {
	if len(fields) < 6 {
		return nil, errors.NotValidf("sample_table line %q", strings.Join(fields, ";"))
	}
	rows := make([][]int, 0, len(fields)-5)
	for _, rowStr := range fields[5:] {
		if rowStr == "" {
			continue
		}
		cols := strings.Split(rowStr, ",")
		row := make([]int, len(cols))
		for i, c := range cols {
			v, err := strconv.Atoi(c)
			if err != nil {
				return nil, errors.NotValidf("sample_table cell %q", c)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RadioInfo is a radio announcement from the API header.
type RadioInfo struct {
	Name       string
	Driver     string
	Interfaces []string
	Events     []string
	Features   map[string]string

	// TPCType is empty when the radio does not support transmit power
	// control; TxPowers then stays nil. Power levels are in dBm,
	// quarter-dB resolution.
	TPCType  string
	TxPowers []float64
}

// ParseRadio decodes a radio announcement:
// radio;0;add;driver;ifaces;events;n_features;feature,setting...;tpc-caps
func ParseRadio(fields []string) (*RadioInfo, error) {
	if len(fields) < 8 {
		return nil, errors.NotValidf("radio line %q", strings.Join(fields, ";"))
	}
	if !isName(fields[0]) {
		return nil, errors.NotValidf("radio name %q", fields[0])
	}
	r := &RadioInfo{
		Name:     fields[0],
		Driver:   fields[3],
		Features: make(map[string]string),
	}
	if fields[4] != "" {
		r.Interfaces = strings.Split(fields[4], ",")
	}
	if fields[5] != "" {
		r.Events = strings.Split(fields[5], ",")
	}
	nFeatures, ok := parseHex(fields[6])
	if !ok {
		return nil, errors.NotValidf("radio feature count %q", fields[6])
	}
	if len(fields) < 7+int(nFeatures)+1 {
		return nil, errors.NotValidf("radio line: %d features announced, line too short", nFeatures)
	}
	for _, f := range fields[7 : 7+nFeatures] {
		kv := strings.SplitN(f, ",", 2)
		if len(kv) != 2 {
			return nil, errors.NotValidf("radio feature %q", f)
		}
		r.Features[kv[0]] = kv[1]
	}

	caps := fields[7+nFeatures:]
	if caps[0] == "not" {
		return r, nil
	}
	if len(caps) < 2 {
		return nil, errors.NotValidf("tpc capability %q", strings.Join(caps, ";"))
	}
	r.TPCType = caps[0]
	nRanges, ok := parseHex(caps[1])
	if !ok {
		return nil, errors.NotValidf("tpc range count %q", caps[1])
	}
	ranges := caps[2:]
	if int(nRanges) != len(ranges) {
		return nil, errors.NotValidf("tpc capability: expected %d ranges, got %d", nRanges, len(ranges))
	}
	for _, blk := range ranges {
		pwrs, err := parseTPCRange(blk)
		if err != nil {
			return nil, errors.Trace(err)
		}
		r.TxPowers = append(r.TxPowers, pwrs...)
	}
	return r, nil
}

// parseTPCRange decodes one start_idx,n_indeces,start_lvl,width block into
// concrete power levels: (start_lvl+idx)*width quarter dB.
func parseTPCRange(blk string) ([]float64, error) {
	fields := strings.Split(blk, ",")
	if len(fields) != 4 {
		return nil, errors.NotValidf("tpc range block %q", blk)
	}
	var v [4]uint64
	for i, f := range fields {
		u, ok := parseHex(f)
		if !ok {
			return nil, errors.NotValidf("tpc range field %q", f)
		}
		v[i] = u
	}
	startIdx, nIndices, startLvl, width := v[0], v[1], v[2], v[3]
	pwrs := make([]float64, 0, nIndices+1)
	for idx := startIdx; idx <= startIdx+nIndices; idx++ {
		pwrs = append(pwrs, float64(startLvl+idx)*float64(width)*0.25)
	}
	return pwrs, nil
}
