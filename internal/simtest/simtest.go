// Package simtest starts simulated instruments on loopback ports for tests.
package simtest

import (
	"fmt"
	"testing"

	"github.com/Samtec-ASH/govisainstrument/internal/sim"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

// Serve runs inst on an ephemeral loopback port until the test ends and
// returns the server.
func Serve(t testing.TB, inst sim.Instrument) *sim.Server {
	t.Helper()
	srv := sim.NewServer(inst, nil)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start %s: %v", inst.Name(), err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

// Start runs inst and returns its VISA socket address.
func Start(t testing.TB, inst sim.Instrument) string {
	t.Helper()
	srv := Serve(t, inst)
	return visa.TCPAddress("127.0.0.1", srv.Port())
}

// StartRelay runs a relay module and returns its TCP::host:port address.
func StartRelay(t testing.TB, relay *sim.Relay) string {
	t.Helper()
	srv := Serve(t, relay)
	return fmt.Sprintf("TCP::127.0.0.1:%d", srv.Port())
}
