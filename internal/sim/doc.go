// Package sim implements simulated instruments for driver development and
// integration tests.
//
// Each simulated instrument listens on its own TCP port and speaks the
// instrument's text protocol: SCPI for the VNA, DAQ and power supply, and the
// Numato console (optionally behind a telnet login) for the relay module.
// SCPI headers are matched by short or long mnemonic with optional numeric
// suffixes, and the IEEE 488.2 common commands maintain a real event status
// register so completion polling and error reporting behave as on hardware.
//
// A Lab groups running instruments and exposes them through a small HTTP
// control API with Prometheus metrics.
package sim
