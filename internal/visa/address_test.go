package visa

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Address
	}{
		{
			name: "raw socket",
			raw:  "TCPIP::127.0.0.1::5025::SOCKET",
			want: Address{Interface: InterfaceTCPIP, Host: "127.0.0.1", Port: 5025, Class: "SOCKET"},
		},
		{
			name: "socket with board",
			raw:  "TCPIP0::vna.lab::5025::SOCKET",
			want: Address{Interface: InterfaceTCPIP, Board: "0", Host: "vna.lab", Port: 5025, Class: "SOCKET"},
		},
		{
			name: "serial path suffix",
			raw:  "ASRL/dev/ttyUSB0::INSTR",
			want: Address{Interface: InterfaceSerial, Device: "/dev/ttyUSB0", Class: "INSTR"},
		},
		{
			name: "serial board number",
			raw:  "ASRL3::INSTR",
			want: Address{Interface: InterfaceSerial, Device: "COM3", Class: "INSTR"},
		},
		{
			name: "serial separated path",
			raw:  "ASRL::/dev/ttyACM0::INSTR",
			want: Address{Interface: InterfaceSerial, Device: "/dev/ttyACM0", Class: "INSTR"},
		},
		{
			name: "serial auto",
			raw:  "ASRL::AUTO::E36312A::INSTR",
			want: Address{Interface: InterfaceSerial, AutoMatch: "E36312A", Class: "INSTR"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.raw)
			if err != nil {
				t.Fatalf("ParseAddress(%q) failed: %v", tt.raw, err)
			}
			tt.want.Raw = tt.raw
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseAddress_Unsupported(t *testing.T) {
	for _, raw := range []string{
		"",
		"GPIB0::12::INSTR",
		"TCPIP::10.0.0.1::INSTR",
		"TCPIP::10.0.0.1::notaport::SOCKET",
		"TCPIP::::5025::SOCKET",
		"ASRL::AUTO::::INSTR",
		"ASRL/dev/ttyS0::SOCKET",
	} {
		if _, err := ParseAddress(raw); !errors.Is(err, ErrUnsupportedAddress) {
			t.Errorf("ParseAddress(%q): expected ErrUnsupportedAddress, got %v", raw, err)
		}
	}
}

func TestAddress_String(t *testing.T) {
	tests := map[string]string{
		"TCPIP0::host::5025::SOCKET":    "TCPIP0::host::5025::SOCKET",
		"ASRL::/dev/ttyACM0::INSTR":     "ASRL/dev/ttyACM0::INSTR",
		"asrl::auto::34972A::instr":     "ASRL::AUTO::34972A::INSTR",
		"TCPIP::10.1.2.3::5025::socket": "TCPIP::10.1.2.3::5025::SOCKET",
	}
	for raw, want := range tests {
		addr, err := ParseAddress(raw)
		if err != nil {
			t.Fatalf("ParseAddress(%q) failed: %v", raw, err)
		}
		if got := addr.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
