package sim

import (
	"reflect"
	"testing"
)

func TestSplitter_Feed(t *testing.T) {
	var sp Splitter

	got := sp.Feed([]byte("*IDN?\r\nSENS1:FREQ:STAR 1E7;SENS1:FREQ:STOP 2E9\nSENS1:SWE:PO"))
	want := []string{"*IDN?", "SENS1:FREQ:STAR 1E7", "SENS1:FREQ:STOP 2E9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}

	got = sp.Feed([]byte("IN 201\n"))
	want = []string{"SENS1:SWE:POIN 201"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected partial command to be joined, got %q", got)
	}

	// A trailing semicolon completes its command.
	got = sp.Feed([]byte("*CLS;"))
	if !reflect.DeepEqual(got, []string{"*CLS"}) {
		t.Errorf("Expected [*CLS], got %q", got)
	}
	got = sp.Feed([]byte("*OPC\n"))
	if !reflect.DeepEqual(got, []string{"*OPC"}) {
		t.Errorf("Expected [*OPC], got %q", got)
	}

	if got := sp.Feed([]byte("\n\n")); len(got) != 0 {
		t.Errorf("Expected no commands from blank lines, got %q", got)
	}
}

func TestSplitter_QuotedSemicolon(t *testing.T) {
	var sp Splitter

	got := sp.Feed([]byte(`DISP:TEXT:DATA "a;b";*OPC` + "\n"))
	want := []string{`DISP:TEXT:DATA "a;b"`, "*OPC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}

	// Quote state carries across reads.
	got = sp.Feed([]byte(`DISP:TEXT:DATA 'x;`))
	if len(got) != 0 {
		t.Errorf("Expected no commands inside an open quote, got %q", got)
	}
	got = sp.Feed([]byte("y';*CLS\n"))
	want = []string{`DISP:TEXT:DATA 'x;y'`, "*CLS"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}

	// A newline ends an unterminated quote.
	got = sp.Feed([]byte("DISP:TEXT:DATA \"oops\n*IDN?\n"))
	want = []string{`DISP:TEXT:DATA "oops`, "*IDN?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line   string
		header string
		query  bool
		params []string
	}{
		{"*IDN?", "*IDN", true, nil},
		{"sens1:freq:star 10000000", "SENS1:FREQ:STAR", false, []string{"10000000"}},
		{":ROUT:CLOS? (@101,102)", "ROUT:CLOS", true, []string{"(@101,102)"}},
		{"APPL 1, 5.00, 2.00", "APPL", false, []string{"1", "5.00", "2.00"}},
		{"CALC1:PAR:DEF 'CH1_S11',S11", "CALC1:PAR:DEF", false, []string{"'CH1_S11'", "S11"}},
		{`CALC:DATA:SNP:PORTs? "1,2,3,4"`, "CALC:DATA:SNP:PORTS", true, []string{`"1,2,3,4"`}},
		{"FORM:DATA REAL,32", "FORM:DATA", false, []string{"REAL", "32"}},
		{`DISP:TEXT:DATA "Hi, there"`, "DISP:TEXT:DATA", false, []string{`"Hi, there"`}},
	}
	for _, tt := range tests {
		cmd := ParseCommand(tt.line)
		if cmd.Header != tt.header {
			t.Errorf("%q: expected header %q, got %q", tt.line, tt.header, cmd.Header)
		}
		if cmd.Query != tt.query {
			t.Errorf("%q: expected query=%v", tt.line, tt.query)
		}
		if !reflect.DeepEqual(cmd.Params, tt.params) {
			t.Errorf("%q: expected params %q, got %q", tt.line, tt.params, cmd.Params)
		}
	}
}

func TestUnquote(t *testing.T) {
	for in, want := range map[string]string{
		`"abc"`:  "abc",
		`'CH1'`:  "CH1",
		`abc`:    "abc",
		`"abc'`:  `"abc'`,
		` "x" `:  "x",
		`""`:     "",
	} {
		if got := Unquote(in); got != want {
			t.Errorf("Unquote(%q): expected %q, got %q", in, want, got)
		}
	}
}
