package visa

import (
	"errors"
	"fmt"
	"strings"
)

// Session layer errors. Transport errors (dial failures, connection resets,
// deadline expiry on sockets) are returned as produced by the transport.
var (
	ErrNotOpen            = errors.New("visa: resource not open")
	ErrCompletionTimeout  = errors.New("visa: completion timeout")
	ErrUnsupportedAddress = errors.New("visa: unsupported resource address")
	ErrDeviceNotFound     = errors.New("visa: device not found")
	ErrTimeout            = errors.New("visa: i/o timeout")
	ErrInvalidBlock       = errors.New("visa: invalid binary block")
)

// Errors reported by an instrument through its standard event status register.
var (
	ErrQueryError     = errors.New("query error")
	ErrDeviceError    = errors.New("device dependent error")
	ErrExecutionError = errors.New("execution error")
	ErrCommandError   = errors.New("command error")
)

// Standard event status register bits (IEEE 488.2).
const (
	ESROperationComplete = 0x01
	ESRRequestControl    = 0x02
	ESRQueryError        = 0x04
	ESRDeviceError       = 0x08
	ESRExecutionError    = 0x10
	ESRCommandError      = 0x20
	ESRUserRequest       = 0x40
	ESRPowerOn           = 0x80

	// ESRErrorMask selects the error bits of the register.
	ESRErrorMask = ESRQueryError | ESRDeviceError | ESRExecutionError | ESRCommandError
)

// esrFaults maps error bits of the event status register to sentinel errors.
var esrFaults = []struct {
	bit int
	err error
}{
	{ESRQueryError, ErrQueryError},
	{ESRDeviceError, ErrDeviceError},
	{ESRExecutionError, ErrExecutionError},
	{ESRCommandError, ErrCommandError},
}

// InstrumentError is returned when an instrument flags an error in its event
// status register while a command completes.
type InstrumentError struct {
	Address string
	Command string
	ESR     int
}

func (e *InstrumentError) Error() string {
	names := make([]string, 0, len(esrFaults))
	for _, f := range e.Faults() {
		names = append(names, f.Error())
	}
	return fmt.Sprintf("visa: %s reported error code %d (%s) for <%s>",
		e.Address, e.ESR, strings.Join(names, ", "), e.Command)
}

// Faults lists the sentinel errors whose bits are set.
func (e *InstrumentError) Faults() []error {
	var faults []error
	for _, f := range esrFaults {
		if e.ESR&f.bit != 0 {
			faults = append(faults, f.err)
		}
	}
	return faults
}

// Is matches any fault flagged in the register.
func (e *InstrumentError) Is(target error) bool {
	for _, f := range e.Faults() {
		if f == target {
			return true
		}
	}
	return false
}
