package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/config"
	"github.com/Samtec-ASH/govisainstrument/internal/sim"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

func testConfig() *config.Sim {
	cfg := config.DefaultSim()
	cfg.HTTPAddr = "127.0.0.1:0"
	for i := range cfg.Instruments {
		cfg.Instruments[i].Port = 0
	}
	return cfg
}

func TestStart(t *testing.T) {
	d, err := start(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer func() { assert.NoError(t, d.shutdown()) }()

	infos := d.lab.List()
	require.Len(t, infos, 4)
	var psuPort int
	for _, info := range infos {
		assert.NotZero(t, info.Port, info.Name)
		if info.Kind == sim.KindPSU {
			psuPort = info.Port
		}
	}

	ctx := context.Background()
	r := visa.NewResource("psu", visa.TCPAddress("127.0.0.1", psuPort), visa.WithDelay(0))
	require.NoError(t, r.Open(ctx))
	idn, err := r.ID(ctx)
	require.NoError(t, err)
	assert.Contains(t, idn, "E36312A")
	require.NoError(t, r.Close(ctx))

	resp, err := http.Get("http://" + d.api.Addr().String() + "/instruments")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Result string               `json:"result"`
		Data   []sim.InstrumentInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Result)
	assert.Len(t, body.Data, 4)
}

func TestStart_NoAPI(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = ""
	d, err := start(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Nil(t, d.http)
	assert.NoError(t, d.shutdown())
}

func TestStart_BadInstrument(t *testing.T) {
	cfg := testConfig()
	cfg.Instruments = append(cfg.Instruments, config.SimInstrument{Name: "scope", Kind: "oscilloscope"})
	_, err := start(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "failed to create scope")
}
