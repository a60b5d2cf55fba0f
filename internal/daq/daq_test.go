package daq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/daq"
	"github.com/Samtec-ASH/govisainstrument/internal/sim"
	"github.com/Samtec-ASH/govisainstrument/internal/simtest"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
	"github.com/Samtec-ASH/govisainstrument/internal/visa/visatest"
)

func openFake(t *testing.T, fake *visatest.Instrument, cfg daq.Config) *daq.DAQ {
	t.Helper()
	d := daq.New("DAQ", visatest.Address, cfg, visatest.Options(fake)...)
	require.NoError(t, d.Open(context.Background()))
	fake.ClearCommands()
	return d
}

func TestConfig_Precision(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"", 2},
		{"SCC", 2},
		{"sccc", 3},
		{"S", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, daq.Config{Format: tt.format}.Precision(), tt.format)
	}
}

func TestChannelAddress(t *testing.T) {
	d := daq.New("DAQ", visatest.Address, daq.Config{})
	assert.Equal(t, 101, d.Channel(1, 1))
	assert.Equal(t, 320, d.Channel(3, 20))

	d = daq.New("DAQ", visatest.Address, daq.Config{Format: "SCCC", Channels: 128})
	assert.Equal(t, 2064, d.Channel(2, 64))
}

func TestRouteCommands(t *testing.T) {
	ctx := context.Background()
	fake := visatest.New()
	d := openFake(t, fake, daq.Config{Slots: 2, Channels: 4})

	require.NoError(t, d.OpenChannel(ctx, 101))
	require.NoError(t, d.CloseChannels(ctx, []int{102, 204}))
	require.NoError(t, d.OpenAllChannels(ctx, 2))
	require.NoError(t, d.CloseAllChannels(ctx, 1))
	assert.Equal(t, []string{
		"ROUT:OPEN (@101)",
		"ROUT:CLOS (@102)",
		"ROUT:CLOS (@204)",
		"ROUT:OPEN (@201:204)",
		"ROUT:CLOS (@101)",
		"ROUT:CLOS (@102)",
		"ROUT:CLOS (@103)",
		"ROUT:CLOS (@104)",
	}, fake.Commands())
}

func TestRouteCommands_SCCC(t *testing.T) {
	fake := visatest.New()
	d := openFake(t, fake, daq.Config{Slots: 1, Channels: 12, Format: "SCCC"})

	require.NoError(t, d.OpenAllChannels(context.Background(), 1))
	require.NoError(t, d.CloseChannel(context.Background(), d.Channel(1, 7)))
	assert.Equal(t, []string{"ROUT:OPEN (@1001:1012)", "ROUT:CLOS (@1007)"}, fake.Commands())
}

func TestRouteValidation(t *testing.T) {
	ctx := context.Background()
	fake := visatest.New()
	d := openFake(t, fake, daq.Config{Slots: 2, Channels: 4})

	assert.Error(t, d.OpenChannel(ctx, 105))
	assert.Error(t, d.CloseChannel(ctx, 301))
	assert.Error(t, d.OpenChannel(ctx, 100))
	assert.Error(t, d.OpenAllChannels(ctx, 0))
	assert.Error(t, d.CloseAllChannels(ctx, 3))
	_, err := d.IsChannelClosed(ctx, 7)
	assert.Error(t, err)
	assert.Empty(t, fake.Commands())
}

func TestRouteValidation_ChannelsExceedFormat(t *testing.T) {
	assert.Error(t, daq.Config{Channels: 120}.Validate())
	assert.Error(t, daq.Config{Channels: 1000, Format: "SCCC"}.Validate())
	assert.NoError(t, daq.Config{Channels: 99}.Validate())
	assert.NoError(t, daq.Config{Channels: 120, Format: "SCCC"}.Validate())

	ctx := context.Background()
	fake := visatest.New()
	d := openFake(t, fake, daq.Config{Slots: 3, Channels: 120})

	assert.Error(t, d.OpenAllChannels(ctx, 1))
	assert.Error(t, d.CloseAllChannels(ctx, 1))
	assert.Error(t, d.CloseChannel(ctx, 101))
	assert.Empty(t, fake.Commands())
}

func TestChannelState(t *testing.T) {
	ctx := context.Background()
	fake := visatest.New().
		Reply("ROUT:CLOS? (@101)", "1").
		Reply("ROUT:CLOS? (@102)", "0")
	d := openFake(t, fake, daq.Config{})

	closed, err := d.IsChannelClosed(ctx, 101)
	require.NoError(t, err)
	assert.True(t, closed)

	open, err := d.IsChannelOpen(ctx, 102)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestMeasurements(t *testing.T) {
	ctx := context.Background()
	fake := visatest.New().
		Reply("MEAS:TEMP? FRTD,85", "+2.35000000E+01").
		Reply("MEAS:RHumidity? FRTD,85", "+4.10000000E+01")
	d := openFake(t, fake, daq.Config{})

	temp, err := d.MeasureTemperature(ctx, "FRTD", "85")
	require.NoError(t, err)
	assert.Equal(t, 23.5, temp)

	rh, err := d.MeasureRelativeHumidity(ctx, "FRTD", "85")
	require.NoError(t, err)
	assert.Equal(t, 41.0, rh)
}

func TestWaitForRoute(t *testing.T) {
	fake := visatest.New().Reply("ROUT:DONE?", "busy", "0", "1")
	d := openFake(t, fake, daq.Config{WaitForRoute: true})

	require.NoError(t, d.CloseChannel(context.Background(), 101))
	assert.Equal(t, []string{"ROUT:CLOS (@101)", "ROUT:DONE?", "ROUT:DONE?", "ROUT:DONE?"}, fake.Commands())
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	fake := visatest.New().Reply("ROUT:DONE?", "0")
	d := openFake(t, fake, daq.Config{})

	err := d.WaitForCompletion(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, visa.ErrCompletionTimeout)
}

func TestOpenAllChannels_Legacy(t *testing.T) {
	fake := visatest.New()
	d := openFake(t, fake, daq.Config{Slots: 1, Channels: 2, WaitForRoute: true})
	fake.Reply("ROUT:DONE?", "1")

	require.NoError(t, d.OpenAllChannels(context.Background(), 1))
	assert.Equal(t, []string{"ROUT:OPEN (@101)", "ROUT:DONE?", "ROUT:OPEN (@102)", "ROUT:DONE?"}, fake.Commands())
}

func TestSim_Routes(t *testing.T) {
	ctx := context.Background()
	dev := sim.NewDAQ("daq", 3, 20, 2)
	d := daq.New("DAQ", simtest.Start(t, dev), daq.Config{WaitForRoute: true}, visa.WithDelay(0), visa.WithTimeout(2*time.Second))
	require.NoError(t, d.Open(ctx))
	t.Cleanup(func() { d.Close(ctx) })

	require.NoError(t, d.CloseAllChannels(ctx, 1))
	for ch := 101; ch <= 120; ch++ {
		closed, err := d.IsChannelClosed(ctx, ch)
		require.NoError(t, err)
		assert.True(t, closed, "channel %d", ch)
	}
	require.NoError(t, d.OpenAllChannels(ctx, 1))
	require.NoError(t, d.CloseChannels(ctx, []int{203, 317}))

	snap := dev.Snapshot().(sim.DAQSnapshot)
	assert.Equal(t, []int{203, 317}, snap.Closed)

	require.NoError(t, d.OpenChannels(ctx, []int{203, 317}))
	open, err := d.IsChannelOpen(ctx, 317)
	require.NoError(t, err)
	assert.True(t, open)

	dev.SetEnvironment(30.25, 55)
	temp, err := d.MeasureTemperature(ctx, "FRTD", "85")
	require.NoError(t, err)
	assert.Equal(t, 30.25, temp)
	rh, err := d.MeasureRelativeHumidity(ctx, "FRTD", "85")
	require.NoError(t, err)
	assert.Equal(t, 55.0, rh)
}
