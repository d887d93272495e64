// Package metrics emits request metrics without ever blocking or failing the
// caller. Events are queued and forwarded to one or more backends (statsd,
// Prometheus) by a background worker.
package metrics

import "time"

// Metric names emitted by the request timing middleware.
const (
	MetricOngoingRequests = "ongoing_requests"
	MetricResponse        = "response"
)

// Values of the status tag on MetricResponse.
const (
	TagStatus     = "status"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Kind distinguishes counters from timers.
type Kind int

const (
	KindCounter Kind = iota
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Tag is a key/value pair attached to an event.
type Tag struct {
	Key   string
	Value string
}

// Event is one metric emission.
type Event struct {
	Name     string
	Kind     Kind
	Value    int64
	Duration time.Duration
	Tags     []Tag
}

// Sink accepts metric emissions. Implementations must return immediately and
// must not surface transport errors.
type Sink interface {
	Incr(name string, tags ...Tag)
	Decr(name string, tags ...Tag)
	Timing(name string, d time.Duration, tags ...Tag)
}

// Nop is a Sink that discards everything.
type Nop struct{}

func (Nop) Incr(string, ...Tag)                  {}
func (Nop) Decr(string, ...Tag)                  {}
func (Nop) Timing(string, time.Duration, ...Tag) {}
