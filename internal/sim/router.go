package sim

import (
	"strconv"
	"strings"
	"unicode"
)

// Request is a routed command plus the numeric suffixes of its header nodes.
type Request struct {
	Command
	Pattern  string
	Suffixes []int
}

// Suffix returns the numeric suffix of header node i, or def when the node
// carried none.
func (r *Request) Suffix(i, def int) int {
	if i < len(r.Suffixes) && r.Suffixes[i] > 0 {
		return r.Suffixes[i]
	}
	return def
}

// Param returns parameter i, or "" when absent.
func (r *Request) Param(i int) string {
	if i < len(r.Params) {
		return r.Params[i]
	}
	return ""
}

// HandlerFunc handles one routed command. A query's reply is sent back to
// the client; a write's reply is ignored.
type HandlerFunc func(req *Request) (string, error)

// mnemonic is one header node written in SCPI notation: the upper-case
// prefix is the short form, the whole word the long form, and a trailing
// '#' allows a numeric suffix.
type mnemonic struct {
	short  string
	long   string
	suffix bool
}

func parseMnemonic(node string) mnemonic {
	m := mnemonic{}
	if strings.HasSuffix(node, "#") {
		m.suffix = true
		node = strings.TrimSuffix(node, "#")
	}
	var short strings.Builder
	for _, r := range node {
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			short.WriteRune(r)
		}
	}
	m.short = short.String()
	m.long = strings.ToUpper(node)
	return m
}

// match reports whether an upper-cased input node matches, returning its
// numeric suffix (0 when absent).
func (m mnemonic) match(node string) (int, bool) {
	base, suffix := node, 0
	if m.suffix {
		i := len(node)
		for i > 0 && node[i-1] >= '0' && node[i-1] <= '9' {
			i--
		}
		if i < len(node) {
			n, err := strconv.Atoi(node[i:])
			if err != nil || n == 0 {
				return 0, false
			}
			base, suffix = node[:i], n
		}
	}
	return suffix, base == m.short || base == m.long
}

type route struct {
	pattern string
	nodes   []mnemonic
	handler HandlerFunc
}

// Router dispatches commands by header using SCPI short/long mnemonic
// matching.
type Router struct {
	routes []route
}

// Handle registers h for a colon separated pattern such as
// "SENSe#:FREQuency:STARt".
func (r *Router) Handle(pattern string, h HandlerFunc) {
	rt := route{pattern: pattern, handler: h}
	for _, node := range strings.Split(pattern, ":") {
		rt.nodes = append(rt.nodes, parseMnemonic(node))
	}
	r.routes = append(r.routes, rt)
}

// Match finds the route for cmd.
func (r *Router) Match(cmd Command) (*Request, HandlerFunc, bool) {
	for _, rt := range r.routes {
		if len(rt.nodes) != len(cmd.Nodes) {
			continue
		}
		suffixes := make([]int, len(cmd.Nodes))
		ok := true
		for i, m := range rt.nodes {
			n, matched := m.match(cmd.Nodes[i])
			if !matched {
				ok = false
				break
			}
			suffixes[i] = n
		}
		if ok {
			return &Request{Command: cmd, Pattern: rt.pattern, Suffixes: suffixes}, rt.handler, true
		}
	}
	return nil, nil, false
}

// Patterns lists the registered patterns in registration order.
func (r *Router) Patterns() []string {
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}
