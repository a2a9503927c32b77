package orca

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tMAC = "aa:bb:cc:dd:ee:ff"

func tLine(radio string, ts uint64, rest string) string {
	return fmt.Sprintf("%s;%016x;%s", radio, ts, rest)
}

func TestParseTxs(t *testing.T) {
	t.Parallel()

	line := tLine("phy0", 0x16ca2563a6f5, "txs;"+tMAC+";4;2;0;85,2,a;86,1,a;,,;,,")
	ev, ok := Parse(line, nil)
	require.True(t, ok)
	require.Equal(t, KindTxs, ev.Kind)
	assert.Equal(t, "phy0", ev.Radio)
	assert.Equal(t, uint64(0x16ca2563a6f5), ev.Timestamp)

	txs := ev.Txs
	require.NotNil(t, txs)
	assert.Equal(t, tMAC, txs.MAC)
	assert.Equal(t, uint32(4), txs.NumFrames)
	assert.Equal(t, uint32(2), txs.NumAck)
	assert.False(t, txs.Probe)
	assert.True(t, txs.Stages[0].Ok)
	assert.Equal(t, RateIndex(0x85), txs.Stages[0].Rate)
	assert.Equal(t, uint8(2), txs.Stages[0].Count)
	assert.Equal(t, 10, txs.Stages[0].Power)
	assert.True(t, txs.Stages[1].Ok)
	assert.False(t, txs.Stages[2].Ok)
	assert.False(t, txs.Stages[3].Ok)

	assert.Equal(t, [4]uint64{8, 4, 0, 0}, txs.Attempts())
	assert.Equal(t, [4]uint64{0, 2, 0, 0}, txs.Successes())
}

func TestTxsSuccessAttribution(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		chain     string
		successes [4]uint64
	}{
		{"first-stage-only", "90,4,;,,;,,;,,", [4]uint64{7, 0, 0, 0}},
		{"all-stages", "90,4,;91,4,;92,4,;93,4,", [4]uint64{0, 0, 0, 7}},
		{"zero-count-floor", "90,0,;,,;,,;,,", [4]uint64{7, 0, 0, 0}},
		{"hole-after-second", "90,2,;91,2,;,,;93,2,", [4]uint64{0, 7, 0, 0}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			line := tLine("phy0", 0x100, "txs;"+tMAC+";1;7;1;"+c.chain)
			ev, ok := Parse(line, nil)
			require.True(t, ok, "line=%s", line)
			assert.True(t, ev.Txs.Probe)
			assert.Equal(t, c.successes, ev.Txs.Successes())
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"short", "phy0;00000000000000ff"},
		{"bad-radio", "PHY_0;00000000000000ff;txs;" + tMAC + ";1;1;0;90,1,;,,;,,;,,"},
		{"short-timestamp", "phy0;ff;txs;" + tMAC + ";1;1;0;90,1,;,,;,,;,,"},
		{"uppercase-hex", "phy0;00000000000000FF;txs;" + tMAC + ";1;1;0;90,1,;,,;,,;,,"},
		{"unknown-type", tLine("phy0", 0xff, "bogus;" + tMAC)},
		{"txs-bad-mac", tLine("phy0", 0xff, "txs;aa-bb-cc-dd-ee-ff;1;1;0;90,1,;,,;,,;,,")},
		{"txs-missing-stage", tLine("phy0", 0xff, "txs;" + tMAC + ";1;1;0;90,1,;,,;,,")},
		{"txs-bad-probe", tLine("phy0", 0xff, "txs;" + tMAC + ";1;1;2;90,1,;,,;,,;,,")},
		{"txs-wide-rate", tLine("phy0", 0xff, "txs;" + tMAC + ";1;1;0;12345,1,;,,;,,;,,")},
		{"rxs-bad-count", tLine("phy0", 0xff, "rxs;" + tMAC + ";ffffffce;ffffffce")},
		{"stats-bad-count", tLine("phy0", 0xff, "stats;" + tMAC + ";1;2;3")},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := Parse(c.line, nil)
			assert.False(t, ok)
			assert.Nil(t, ev)
		})
	}
}

func TestParseRxs(t *testing.T) {
	t.Parallel()
	line := tLine("phy1", 0x200, "rxs;"+tMAC+";ffffffce;ffffffce;ffffffd0;;")
	ev, ok := Parse(line, nil)
	require.True(t, ok)
	require.Equal(t, KindRxs, ev.Kind)
	assert.Equal(t, int32(-50), ev.Rxs.MinRSSI)
	assert.Equal(t, int32(-50), ev.Rxs.Antenna[0])
	assert.Equal(t, int32(-48), ev.Rxs.Antenna[1])
	assert.Equal(t, 2, ev.Rxs.NAntenna)
}

func TestParseStats(t *testing.T) {
	t.Parallel()
	line := tLine("phy0", 0x300, "stats;"+tMAC+";1;2;3;4;5;6;7")
	ev, ok := Parse(line, nil)
	require.True(t, ok)
	require.Equal(t, KindStats, ev.Kind)
	assert.Equal(t, [7]uint64{1, 2, 3, 4, 5, 6, 7}, ev.Stats.Values)
}

func staTail(action string) string {
	fields := []string{"sta", action, tMAC, "wlan0", "auto", "auto", "ae", "bc", "14", "32"}
	for i := 0; i < 40; i++ {
		fields = append(fields, "3ff")
	}
	return strings.Join(fields, ";")
}

func TestParseSta(t *testing.T) {
	t.Parallel()

	t.Run("add", func(t *testing.T) {
		t.Parallel()
		ev, ok := Parse(tLine("phy0", 0x400, staTail("add")), nil)
		require.True(t, ok)
		require.Equal(t, KindSta, ev.Kind)
		sta := ev.Sta
		assert.Equal(t, StaAdd, sta.Action)
		assert.Equal(t, tMAC, sta.MAC)
		assert.Equal(t, "wlan0", sta.Iface)
		assert.Equal(t, ModeAuto, sta.RCMode)
		assert.Equal(t, uint32(0xae), sta.OverheadMCS)
		assert.Equal(t, uint32(0xbc), sta.OverheadLegacy)
		assert.Equal(t, uint32(0x14), sta.UpdateFreq)
		assert.Equal(t, uint32(0x32), sta.SampleFreq)
		require.Len(t, sta.GroupMasks, 40)
		assert.Equal(t, uint16(0x3ff), sta.GroupMasks[0])
	})

	t.Run("remove", func(t *testing.T) {
		t.Parallel()
		ev, ok := Parse(tLine("phy0", 0x400, "sta;remove;"+tMAC), nil)
		require.True(t, ok)
		assert.Equal(t, StaRemove, ev.Sta.Action)
		assert.Equal(t, tMAC, ev.Sta.MAC)
	})

	t.Run("bad-action", func(t *testing.T) {
		t.Parallel()
		_, ok := Parse(tLine("phy0", 0x400, "sta;replace;"+tMAC), nil)
		assert.False(t, ok)
	})
}

func TestParseRateLists(t *testing.T) {
	t.Parallel()

	ev, ok := Parse(tLine("phy0", 0x500, "best_rates;"+tMAC+";97;96;87;95;86"), nil)
	require.True(t, ok)
	require.Equal(t, KindBestRates, ev.Kind)
	assert.Equal(t, []RateIndex{0x97, 0x96, 0x87, 0x95, 0x86}, ev.Rates.Indices)

	sample := "sample_rates;" + tMAC + strings.Repeat(";42", 15)
	ev, ok = Parse(tLine("phy0", 0x501, sample), nil)
	require.True(t, ok)
	require.Equal(t, KindSampleRates, ev.Kind)
	assert.Len(t, ev.Rates.Indices, 15)
}

func TestParseCmdEcho(t *testing.T) {
	t.Parallel()
	ev, ok := Parse(tLine("phy0", 0x600, "set_rates;"+tMAC+";86,85"), nil)
	require.True(t, ok)
	require.Equal(t, KindCmdEcho, ev.Kind)
	assert.Equal(t, "set_rates", ev.Cmd.Command)
	assert.Equal(t, []string{tMAC, "86,85"}, ev.Cmd.Args)
}

func TestParseErrorLine(t *testing.T) {
	t.Parallel()
	gate := &TimestampGate{}
	_, ok := gate.Accept("00000000000000ff")
	require.True(t, ok)

	ev, ok := Parse("*;0;#error;invalid command", gate)
	require.True(t, ok)
	require.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "invalid command", ev.Err)
	// error lines must not disturb the watermark
	assert.Equal(t, uint64(0xff), gate.Last())
}

func TestParseGateIntegration(t *testing.T) {
	t.Parallel()
	gate := &TimestampGate{}
	stats := "stats;" + tMAC + ";1;2;3;4;5;6;7"

	_, ok := Parse(tLine("phy0", 0x1000, stats), gate)
	require.True(t, ok)
	// stale timestamp rejected
	_, ok = Parse(tLine("phy0", 0x0fff, stats), gate)
	assert.False(t, ok)
	// newer passes
	_, ok = Parse(tLine("phy0", 0x1001, stats), gate)
	assert.True(t, ok)

	// reset_stats echo bypasses the gate: device clock restarted
	ev, ok := Parse(tLine("phy0", 0x1, "reset_stats;"+tMAC), gate)
	require.True(t, ok)
	assert.Equal(t, KindCmdEcho, ev.Kind)
}
