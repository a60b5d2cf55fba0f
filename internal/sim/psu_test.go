package sim

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

func TestPSU_SelectAndApply(t *testing.T) {
	p := NewPSU("psu")
	assert.Equal(t, "CH1", exec(t, p, "INST:SEL?"))

	p.Exec("INST:SEL P25V")
	assert.Equal(t, "CH2", exec(t, p, "INST:SEL?"))
	assert.Equal(t, "2", exec(t, p, "INST:NSEL?"))

	p.Exec("APPL 1, 5.00, 2.00")
	p.Exec("INST:SEL CH1")
	assert.Equal(t, "+5.00000000000E+00", exec(t, p, "VOLT?"))
	assert.Equal(t, "+2.00000000000E+00", exec(t, p, "CURR?"))
	assert.Equal(t, "+6.18000000000E+00", exec(t, p, "VOLT? MAX"))
	assert.Equal(t, "+0.00000000000E+00", exec(t, p, "CURR? MIN"))

	p.Exec("APPL P6V, 7.00, 1.00")
	assert.Equal(t, visa.ESRExecutionError, p.ESR())
}

func TestPSU_OutputIntoLoad(t *testing.T) {
	p := NewPSU("psu")
	p.Exec("VOLT 5.00")
	assert.Equal(t, "+0.00000000000E+00", exec(t, p, "MEAS:VOLT:DC?"), "output off")

	p.Exec("OUTP:STAT ON")
	assert.Equal(t, "1", exec(t, p, "OUTP:STAT?"))
	assert.Equal(t, "+5.00000000000E+00", exec(t, p, "MEAS:VOLT:DC?"))
	assert.Equal(t, "+5.00000000000E-01", exec(t, p, "MEAS:CURR:DC?"))

	// Constant current once the limit is reached.
	p.Exec("CURR 0.1")
	assert.Equal(t, "+1.00000000000E+00", exec(t, p, "MEAS:VOLT:DC?"))
	assert.Equal(t, "+1.00000000000E-01", exec(t, p, "MEAS:CURR:DC?"))

	p.Exec("OUTP OFF")
	assert.Equal(t, "0", exec(t, p, "OUTP?"))
}

func TestPSU_Display(t *testing.T) {
	p := NewPSU("psu")
	p.Exec(`DISP:TEXT:DATA "Hello, bench"`)
	assert.Equal(t, `"Hello, bench"`, exec(t, p, "DISP:TEXT:DATA?"))
	p.Exec("DISP:TEXT:CLE")
	assert.Equal(t, `""`, exec(t, p, "DISP:TEXT:DATA?"))
}

func TestPSU_DisplaySemicolonOverConnection(t *testing.T) {
	p := NewPSU("psu")
	client, server := net.Pipe()
	go p.Serve(server)
	defer client.Close()

	go client.Write([]byte(`DISP:TEXT:DATA "a;b"` + "\nDISP:TEXT:DATA?\n"))
	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `"a;b"`+"\n", reply)
	assert.Equal(t, 0, p.ESR())
}
