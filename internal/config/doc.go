// Package config loads the bench and simulator configuration files.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// GOVISA_* (bench) or VISASIM_* (simulator) environment variables. The
// merged result is validated before it is returned.
package config
