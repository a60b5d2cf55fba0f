package visa

import (
	"errors"
	"strings"
	"testing"
)

// TestInstrumentError_Faults tests the event status register to error mapping.
func TestInstrumentError_Faults(t *testing.T) {
	tests := []struct {
		esr  int
		want []error
	}{
		{ESRQueryError, []error{ErrQueryError}},
		{ESRDeviceError, []error{ErrDeviceError}},
		{ESRExecutionError, []error{ErrExecutionError}},
		{ESRCommandError, []error{ErrCommandError}},
		{ESRCommandError | ESRExecutionError | ESROperationComplete, []error{ErrExecutionError, ErrCommandError}},
		{ESROperationComplete | ESRPowerOn, nil},
	}

	for _, tt := range tests {
		e := &InstrumentError{Address: "TCPIP::vna::5025::SOCKET", Command: "SENS1:SWE:MODE SING", ESR: tt.esr}
		got := e.Faults()
		if len(got) != len(tt.want) {
			t.Fatalf("ESR %#x: expected %d faults, got %v", tt.esr, len(tt.want), got)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ESR %#x: expected fault %v, got %v", tt.esr, tt.want[i], got[i])
			}
			if !errors.Is(e, tt.want[i]) {
				t.Errorf("ESR %#x: expected errors.Is(%v)", tt.esr, tt.want[i])
			}
		}
	}
}

func TestInstrumentError_Message(t *testing.T) {
	var err error = &InstrumentError{Address: "dev", Command: "FOO", ESR: ESRCommandError}
	if !strings.Contains(err.Error(), "error code 32") || !strings.Contains(err.Error(), "<FOO>") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if errors.Is(err, ErrDeviceError) {
		t.Error("Expected command error not to match device error")
	}

	var ie *InstrumentError
	wrapped := errors.Join(errors.New("sweep"), err)
	if !errors.As(wrapped, &ie) || ie.ESR != ESRCommandError {
		t.Error("Expected InstrumentError to be recoverable with errors.As")
	}
}

func TestESRErrorMask(t *testing.T) {
	if ESRErrorMask != 0x3C {
		t.Errorf("Expected error mask 0x3C, got %#x", ESRErrorMask)
	}
}
