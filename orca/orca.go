// Package orca implements the ORCA-RCD control protocol: the TCP line
// transport, the strict line codec for incoming events, and parsing of the
// API header an access point sends after connect.
//
// The protocol is line oriented ASCII, fields separated by ';'. Lines
// starting with '*' carry API information, all other lines start with the
// name of the radio they concern.
package orca

import (
	"strconv"
)

// API version this implementation speaks. Announced by the device in the
// orca_version header line; a mismatch is fatal for that connection.
const (
	APIVersionMajor = 2
	APIVersionMinor = 9
)

// DefaultPort is the ORCA-RCD listening port.
const DefaultPort = 21059

// GroupIndex identifies a rate group (family of related modulation/coding
// settings). On the wire it is the hex prefix of a rate index.
type GroupIndex uint8

func (g GroupIndex) String() string { return strconv.FormatUint(uint64(g), 16) }

// RateIndex identifies one concrete transmission rate: the group index
// followed by a single offset digit. "85" is offset 5 in group 8, numeric
// value 0x85.
type RateIndex uint16

func (r RateIndex) Group() GroupIndex { return GroupIndex(r >> 4) }
func (r RateIndex) Offset() uint8     { return uint8(r & 0xf) }

// String renders the wire form, zero padded to two digits like the device
// expects in commands.
func (r RateIndex) String() string {
	s := strconv.FormatUint(uint64(r), 16)
	if len(s) == 1 {
		s = "0" + s
	}
	return s
}

// ParseRateIndex accepts the wire form: 1-3 lowercase hex digits, last
// digit is the offset within the group.
func ParseRateIndex(s string) (RateIndex, bool) {
	if len(s) < 1 || len(s) > 3 {
		return 0, false
	}
	u, ok := parseHex(s)
	if !ok {
		return 0, false
	}
	return RateIndex(u), true
}

// PowerAuto is the transmit power index meaning "driver decides". It is
// also the query index for the all-powers aggregate in rate statistics.
const PowerAuto = -1

// Mode is a station's rate or power control mode.
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "auto"
}

func parseMode(s string) (Mode, bool) {
	switch s {
	case "auto":
		return ModeAuto, true
	case "manual":
		return ModeManual, true
	}
	return 0, false
}

// parseHex decodes strict lowercase hex as unsigned.
func parseHex(s string) (uint64, bool) {
	if len(s) == 0 || len(s) > 16 {
		return 0, false
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint64(c-'a'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

// parseS16/parseS32 decode two's-complement signed hex, used for RSSI
// fields.
func parseS16(s string) (int32, bool) {
	u, ok := parseHex(s)
	if !ok || u > 0xffff {
		return 0, false
	}
	return int32(int16(u)), true
}

func parseS32(s string) (int32, bool) {
	u, ok := parseHex(s)
	if !ok || u > 0xffffffff {
		return 0, false
	}
	return int32(u), true
}

// isName matches radio and interface names: [-a-z0-9]+
func isName(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}

// isMAC matches the wire MAC format: six lowercase hex octets separated by
// colons.
func isMAC(s string) bool {
	if len(s) != 17 {
		return false
	}
	for i := 0; i < 17; i++ {
		c := s[i]
		if i%3 == 2 {
			if c != ':' {
				return false
			}
			continue
		}
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func isHexN(s string, min, max int) bool {
	if len(s) < min || len(s) > max {
		return false
	}
	if len(s) == 0 {
		return true
	}
	_, ok := parseHex(s)
	return ok
}
