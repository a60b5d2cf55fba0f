package sim

import (
	"strings"
)

// Command is one parsed program message unit.
type Command struct {
	Raw    string
	Header string
	Nodes  []string
	Query  bool
	Params []string
}

// ParseCommand splits a command into its upper-cased header nodes and its
// parameters. Parameter case is preserved.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	cmd := Command{Raw: line}
	header, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		header, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	header = strings.ToUpper(strings.TrimPrefix(header, ":"))
	if strings.HasSuffix(header, "?") {
		cmd.Query = true
		header = strings.TrimSuffix(header, "?")
	}
	cmd.Header = header
	if header != "" {
		cmd.Nodes = strings.Split(header, ":")
	}
	cmd.Params = splitParams(rest)
	return cmd
}

// splitParams splits on commas outside quotes and parentheses.
func splitParams(s string) []string {
	if s == "" {
		return nil
	}
	var params []string
	var cur strings.Builder
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			params = append(params, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	params = append(params, strings.TrimSpace(cur.String()))
	return params
}

// Unquote strips one pair of matching single or double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Splitter reassembles commands from a byte stream. Commands are separated
// by newlines or by semicolons outside quoted strings, carriage returns are
// ignored, and an incomplete trailing command is held until more data
// arrives. A newline ends a command even inside an unterminated quote.
type Splitter struct {
	partial strings.Builder
	quote   rune
}

// Feed consumes data and returns the complete commands it finishes.
func (s *Splitter) Feed(data []byte) []string {
	var cmds []string
	flush := func() {
		if c := s.partial.String(); strings.TrimSpace(c) != "" {
			cmds = append(cmds, c)
		}
		s.partial.Reset()
		s.quote = 0
	}
	for _, r := range string(data) {
		switch {
		case r == '\r':
			continue
		case r == '\n':
			flush()
			continue
		case s.quote != 0:
			if r == s.quote {
				s.quote = 0
			}
		case r == '"' || r == '\'':
			s.quote = r
		case r == ';':
			flush()
			continue
		}
		s.partial.WriteRune(r)
	}
	return cmds
}
