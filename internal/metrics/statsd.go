package metrics

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

// statter is the part of statsd.Statter the backend uses.
type statter interface {
	Inc(stat string, value int64, rate float32, tags ...statsd.Tag) error
	Dec(stat string, value int64, rate float32, tags ...statsd.Tag) error
	TimingDuration(stat string, delta time.Duration, rate float32, tags ...statsd.Tag) error
	Close() error
}

// statsdBackend writes DogStatsD-style packets (`name:1|c|#status:success`)
// over UDP from an ephemeral local port.
type statsdBackend struct {
	client statter
}

func newStatsdBackend(target, prefix string, flushInterval time.Duration) (*statsdBackend, error) {
	if target == "" {
		return nil, errors.New("no metrics target configured")
	}
	// Resolve up front so an unusable target is reported here rather than
	// on every send.
	if _, err := net.ResolveUDPAddr("udp", target); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	client, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address:       target,
		Prefix:        prefix,
		UseBuffered:   true,
		FlushInterval: flushInterval,
		TagFormat:     statsd.SuffixOctothorpe,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client for %s: %w", target, err)
	}
	return &statsdBackend{client: client}, nil
}

func (b *statsdBackend) Send(e Event) error {
	tags := statsdTags(e.Tags)
	switch e.Kind {
	case KindCounter:
		if e.Value < 0 {
			return b.client.Dec(e.Name, -e.Value, 1.0, tags...)
		}
		return b.client.Inc(e.Name, e.Value, 1.0, tags...)
	case KindTimer:
		return b.client.TimingDuration(e.Name, e.Duration, 1.0, tags...)
	default:
		return fmt.Errorf("unsupported metric kind %d", e.Kind)
	}
}

func (b *statsdBackend) Close() error {
	return b.client.Close()
}

func statsdTags(tags []Tag) []statsd.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]statsd.Tag, len(tags))
	for i, t := range tags {
		out[i] = statsd.Tag{t.Key, t.Value}
	}
	return out
}
