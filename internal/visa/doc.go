// Package visa provides the instrument session layer shared by all drivers.
//
// A Resource wraps a single byte channel to an instrument (raw TCP socket or
// serial port) addressed by a VISA style resource string. It applies read and
// write terminations, an inter-command delay and an I/O timeout, and offers the
// IEEE 488.2 helpers the drivers are built on: *IDN?, *OPC/*ESR? completion
// polling and definite-length binary block transfers.
//
// Supported resource strings:
//   - TCPIP[board]::<host>::<port>::SOCKET
//   - ASRL<device>::INSTR and ASRL::<device>::INSTR
//   - ASRL::AUTO::<idn match>::INSTR (serial port located by *IDN? reply)
//
// Host names of the form <name>._ssh._tcp.local and <name>._http._tcp.local
// are resolved over mDNS, and <name>._smb._tcp.local through the local samba
// client tools.
package visa
