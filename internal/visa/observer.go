package visa

import "time"

// Op names the kind of exchange recorded by an Observer.
type Op string

const (
	OpOpen  Op = "open"
	OpClose Op = "close"
	OpWrite Op = "write"
	OpQuery Op = "query"
	OpRead  Op = "read"
)

// Exchange is one completed operation on a resource.
type Exchange struct {
	Time     time.Time
	Resource string
	Address  string
	Session  string
	Op       Op
	Command  string
	Response string
	Duration time.Duration
	Err      error
}

// Observer receives every exchange a resource performs.
type Observer interface {
	Observe(Exchange)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Exchange)

func (f ObserverFunc) Observe(e Exchange) { f(e) }
