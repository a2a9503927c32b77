package ap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlansys/orcactl/orca"
)

func testStation(t *testing.T) (*Station, <-chan string) {
	a := testAP(t)
	require.NoError(t, a.ApplyHeaderLine(staDumpLine("3ff", "3ff")))
	recvd := attachPipe(t, a)
	sta := a.Station(tMAC)
	require.NotNil(t, sta)
	return sta, recvd
}

func TestStationModeCommands(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	require.NoError(t, sta.SetManualRCMode(true))
	assert.Equal(t, "phy0;rc_mode;"+tMAC+";manual", recvCmd(t, recvd))
	assert.Equal(t, orca.ModeManual, sta.RCMode())

	// already manual: nothing sent
	require.NoError(t, sta.SetManualRCMode(true))

	require.NoError(t, sta.SetManualTPCMode(true))
	assert.Equal(t, "phy0;tpc_mode;"+tMAC+";manual", recvCmd(t, recvd))

	require.NoError(t, sta.SetAutoRCModeFreqs(20, 50))
	assert.Equal(t, "phy0;rc_mode;"+tMAC+";auto;14;32", recvCmd(t, recvd))
	assert.Equal(t, orca.ModeAuto, sta.RCMode())
	assert.Equal(t, uint32(20), sta.UpdateFreq())
	assert.Equal(t, uint32(50), sta.SampleFreq())
}

func TestSetRatesRequiresManualMode(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	err := sta.SetRates([]orca.RateIndex{0x05}, []uint8{2})
	require.Error(t, err)
	assert.True(t, IsStationMode(err))

	require.NoError(t, sta.SetManualRCMode(true))
	recvCmd(t, recvd)

	err = sta.SetRates([]orca.RateIndex{0x05}, []uint8{2, 4})
	assert.Error(t, err) // length mismatch

	require.NoError(t, sta.SetRates([]orca.RateIndex{0x05, 0x16}, []uint8{2, 4}))
	assert.Equal(t, "phy0;set_rates;"+tMAC+";05,2;16,4", recvCmd(t, recvd))
}

func TestSetPowerRequiresManualMode(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	err := sta.SetPower([]int{3})
	assert.True(t, IsStationMode(err))

	require.NoError(t, sta.SetManualTPCMode(true))
	recvCmd(t, recvd)

	require.NoError(t, sta.SetPower([]int{3, 7}))
	assert.Equal(t, "phy0;set_power;"+tMAC+";3;7", recvCmd(t, recvd))
}

func TestSetRatesAndPower(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	err := sta.SetRatesAndPower([]orca.RateIndex{0x05}, []uint8{1}, []int{2})
	assert.True(t, IsStationMode(err))

	require.NoError(t, sta.SetManualRCMode(true))
	recvCmd(t, recvd)
	require.NoError(t, sta.SetManualTPCMode(true))
	recvCmd(t, recvd)

	require.NoError(t, sta.SetRatesAndPower([]orca.RateIndex{0x05}, []uint8{1}, []int{2}))
	assert.Equal(t, "phy0;set_rates_power;"+tMAC+";05,1,2", recvCmd(t, recvd))
}

func TestSetProbeRate(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	require.NoError(t, sta.SetManualRCMode(true))
	recvCmd(t, recvd)

	// unsupported rate rejected before any I/O
	err := sta.SetProbeRate(0x95, 1, orca.PowerAuto)
	assert.Error(t, err)
	assert.False(t, IsStationMode(err))

	require.NoError(t, sta.SetProbeRate(0x16, 1, orca.PowerAuto))
	assert.Equal(t, "phy0;set_probe;"+tMAC+";16,1", recvCmd(t, recvd))

	require.NoError(t, sta.SetProbeRate(0x16, 2, 5))
	assert.Equal(t, "phy0;set_probe;"+tMAC+";16,2,5", recvCmd(t, recvd))
}

func TestResetKernelStats(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)

	require.NoError(t, sta.ResetKernelStats())
	assert.Equal(t, "phy0;reset_stats;"+tMAC, recvCmd(t, recvd))

	a := sta.AccessPoint()
	require.NoError(t, a.ResetKernelStats("*", "all"))
	assert.Equal(t, "*;reset_stats;all", recvCmd(t, recvd))
}

func TestSetAllStationsMode(t *testing.T) {
	t.Parallel()
	sta, recvd := testStation(t)
	a := sta.AccessPoint()

	require.NoError(t, a.SetAllStationsRCMode("phy0", orca.ModeManual))
	assert.Equal(t, "phy0;rc_mode;all;manual", recvCmd(t, recvd))
	assert.Equal(t, orca.ModeManual, sta.RCMode())

	require.NoError(t, a.SetAllStationsTPCMode("*", orca.ModeAuto))
	assert.Equal(t, "*;tpc_mode;all;auto", recvCmd(t, recvd))
	assert.Equal(t, orca.ModeAuto, sta.TPCMode())
}
