package sim

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLab(t *testing.T) (*Lab, map[string]string) {
	t.Helper()
	lab := NewLab(nil)
	t.Cleanup(func() { lab.Close() })

	addrs := map[string]string{}
	for _, spec := range []Spec{
		{Name: "pna", Kind: KindVNA, Ports: 2},
		{Name: "daq", Kind: KindDAQ},
		{Name: "psu", Kind: KindPSU, IDN: "Agilent Technologies,E3631A,0,2.1-5.0-1.0"},
	} {
		inst, err := New(spec)
		require.NoError(t, err)
		srv, err := lab.Start(inst, "127.0.0.1:0")
		require.NoError(t, err)
		addrs[spec.Name] = srv.Addr().String()
	}
	return lab, addrs
}

func query(t *testing.T, addr string, lines ...string) []string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)
	var replies []string
	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		if ParseCommand(line).Query {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			reply, err := br.ReadString('\n')
			require.NoError(t, err)
			replies = append(replies, reply[:len(reply)-1])
		}
	}
	return replies
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Spec{Name: "x", Kind: "oscilloscope"})
	assert.Error(t, err)
	_, err = New(Spec{Kind: KindPSU})
	assert.Error(t, err)
}

func TestLab_ServesInstruments(t *testing.T) {
	lab, addrs := startLab(t)

	assert.Equal(t, []string{"Agilent Technologies,E3631A,0,2.1-5.0-1.0"}, query(t, addrs["psu"], "*IDN?"))
	assert.Equal(t, []string{"1", "1"}, query(t, addrs["daq"], "ROUT:CLOS (@101)", "ROUT:CLOS? (@101)", "*OPC", "*ESR?"))

	_, err := lab.Start(NewPSU("psu"), "127.0.0.1:0")
	assert.Error(t, err, "names are unique")

	m := lab.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("daq", "ROUTe:CLOSe", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("daq", "ROUTe:CLOSe", "query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("psu", "*IDN", "query")))

	query(t, addrs["pna"], "NOT:A:COMMAND", "*OPC?")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("pna", "command")))
}

func TestLab_PartialWritesAcrossPackets(t *testing.T) {
	_, addrs := startLab(t)
	conn, err := net.Dial("tcp", addrs["pna"])
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte("SENS1:SWE:POIN 4"))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("01\r\nSENS1:SWE:POIN?\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "401\n", reply)
}

func TestAPI_Endpoints(t *testing.T) {
	lab, addrs := startLab(t)
	query(t, addrs["psu"], "VOLT 3.3", "*OPC?")

	ts := httptest.NewServer(NewHandler(lab))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var list struct {
		Result string           `json:"result"`
		Data   []InstrumentInfo `json:"data"`
	}
	resp, err = http.Get(ts.URL + "/instruments")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, "ok", list.Result)
	require.Len(t, list.Data, 3)
	assert.Equal(t, "daq", list.Data[0].Name)
	assert.Equal(t, KindVNA, list.Data[1].Kind)

	var one struct {
		Data struct {
			Kind  string      `json:"kind"`
			State PSUSnapshot `json:"state"`
		} `json:"data"`
	}
	resp, err = http.Get(ts.URL + "/instruments/psu")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	resp.Body.Close()
	assert.Equal(t, KindPSU, one.Data.Kind)
	assert.Equal(t, 3.3, one.Data.State.Outputs[0].Voltage)

	resp, err = http.Post(ts.URL+"/instruments/psu/reset", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	inst, _ := lab.Instrument("psu")
	assert.Equal(t, 0.0, inst.Snapshot().(PSUSnapshot).Outputs[0].Voltage)

	resp, err = http.Get(ts.URL + "/instruments/scope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
