package orca

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHeader(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		kind HeaderKind
	}{
		{"*;0;#info mt76 loaded", HeaderComment},
		{"*;0;orca_version;2;9", HeaderAPI},
		{"*;0;group;8;9;ht;1;0;0;1;2", HeaderAPI},
		{"phy0;0;add;mt76;wlan0;txs;0;not", HeaderRadio},
		{"phy0;0;sta;dump;" + tMAC, HeaderSta},
		{"phy0;00000000000000ff;txs;" + tMAC, HeaderUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, ClassifyHeader(c.line), "line=%s", c.line)
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	require.NoError(t, ParseVersion(strings.Split("*;0;orca_version;2;9", ";")))

	err := ParseVersion(strings.Split("*;0;orca_version;3;0", ";"))
	require.Error(t, err)
	assert.True(t, IsUnsupportedVersion(err))
	assert.Contains(t, err.Error(), "3.0")

	err = ParseVersion(strings.Split("*;0;orca_version;x", ";"))
	require.Error(t, err)
	assert.False(t, IsUnsupportedVersion(err))
}

func TestParseGroup(t *testing.T) {
	t.Parallel()

	line := "*;0;group;a;;;9;ht;1;0;0;5ba0;2dd0;1ea0;1720;f50;b70;a30;930;7a0;6e0"
	g, err := ParseGroup(strings.Split(line, ";"))
	require.NoError(t, err)
	assert.Equal(t, GroupIndex(0xa), g.Index)
	assert.Equal(t, "ht", g.Type)
	assert.Equal(t, uint8(1), g.NSS)
	assert.Equal(t, 9, g.MaxOffset())

	at, ok := g.Airtime(0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x5ba0), at)
	_, ok = g.Airtime(10)
	assert.False(t, ok)

	rates := g.Rates()
	require.Len(t, rates, 10)
	assert.Equal(t, RateIndex(0xa0), rates[0])
	assert.Equal(t, RateIndex(0xa9), rates[9])
	assert.Equal(t, GroupIndex(0xa), rates[9].Group())
	assert.Equal(t, uint8(9), rates[9].Offset())
}

func TestParseGroupRejects(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		"*;0;group;a;ht;1;0;0",           // too short
		"*;0;group;zz;9;ht;1;0;0;1;2;3",  // bad index
		"*;0;group;a;9;ht;1;0;0;1;2;xyz", // bad airtime
	} {
		_, err := ParseGroup(strings.Split(line, ";"))
		assert.Error(t, err, "line=%s", line)
	}
}

func TestParseSampleTable(t *testing.T) {
	t.Parallel()
	line := "*;0;sample_table;2;3;1,2,3;4,5,6"
	rows, err := ParseSampleTable(strings.Split(line, ";"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []int{1, 2, 3}, rows[0])
	assert.Equal(t, []int{4, 5, 6}, rows[1])
}

func TestParseRadio(t *testing.T) {
	t.Parallel()

	t.Run("tpc", func(t *testing.T) {
		t.Parallel()
		line := "phy0;0;add;mt76;wlan0,wlan1;txs,rxs,stats;2;filter,0;ampdu,1;mrr;1;0,8,4,8"
		r, err := ParseRadio(strings.Split(line, ";"))
		require.NoError(t, err)
		assert.Equal(t, "phy0", r.Name)
		assert.Equal(t, "mt76", r.Driver)
		assert.Equal(t, []string{"wlan0", "wlan1"}, r.Interfaces)
		assert.Equal(t, []string{"txs", "rxs", "stats"}, r.Events)
		assert.Equal(t, map[string]string{"filter": "0", "ampdu": "1"}, r.Features)
		assert.Equal(t, "mrr", r.TPCType)
		// (4+idx)*8 quarter dB for idx 0..8
		require.Len(t, r.TxPowers, 9)
		assert.Equal(t, 8.0, r.TxPowers[0])
		assert.Equal(t, 24.0, r.TxPowers[8])
	})

	t.Run("no-tpc", func(t *testing.T) {
		t.Parallel()
		line := "phy1;0;add;ath9k;wlan0;txs;0;not"
		r, err := ParseRadio(strings.Split(line, ";"))
		require.NoError(t, err)
		assert.Empty(t, r.TPCType)
		assert.Nil(t, r.TxPowers)
	})

	t.Run("range-count-mismatch", func(t *testing.T) {
		t.Parallel()
		line := "phy0;0;add;mt76;wlan0;txs;0;mrr;2;0,8,4,8"
		_, err := ParseRadio(strings.Split(line, ";"))
		assert.Error(t, err)
	})
}
