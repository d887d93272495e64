package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every Prometheus metric.
const DefaultNamespace = "classify_client"

// PrometheusBackend mirrors events into Prometheus collectors. Counter events
// become gauges, since ongoing_requests moves both ways; timer events become
// histograms in seconds. Collectors are created on first use with the tag
// keys of that event as labels.
type PrometheusBackend struct {
	registerer prom.Registerer
	namespace  string

	mu         sync.Mutex
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
}

// NewPrometheusBackend creates a backend registering on registerer. If
// registerer is nil, prom.DefaultRegisterer is used.
func NewPrometheusBackend(registerer prom.Registerer, namespace string) *PrometheusBackend {
	if registerer == nil {
		registerer = prom.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusBackend{
		registerer: registerer,
		namespace:  namespace,
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
	}
}

func (b *PrometheusBackend) Send(e Event) error {
	labels := prom.Labels{}
	for _, t := range e.Tags {
		labels[sanitize(t.Key)] = t.Value
	}

	switch e.Kind {
	case KindCounter:
		vec, err := b.gauge(e.Name, labels)
		if err != nil {
			return err
		}
		g, err := vec.GetMetricWith(labels)
		if err != nil {
			return fmt.Errorf("gauge %q: %w", e.Name, err)
		}
		g.Add(float64(e.Value))
		return nil
	case KindTimer:
		vec, err := b.histogram(e.Name, labels)
		if err != nil {
			return err
		}
		h, err := vec.GetMetricWith(labels)
		if err != nil {
			return fmt.Errorf("histogram %q: %w", e.Name, err)
		}
		h.Observe(e.Duration.Seconds())
		return nil
	default:
		return fmt.Errorf("unsupported metric kind %d", e.Kind)
	}
}

// Close is a no-op; collectors stay registered.
func (b *PrometheusBackend) Close() error {
	return nil
}

func (b *PrometheusBackend) gauge(name string, labels prom.Labels) (*prom.GaugeVec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if vec, ok := b.gauges[name]; ok {
		return vec, nil
	}
	fullName := b.namespace + "_" + sanitize(name)
	vec := prom.NewGaugeVec(prom.GaugeOpts{
		Name: fullName,
		Help: "Current value of the " + name + " counter.",
	}, labelNames(labels))
	registered, err := register(b.registerer, vec, fullName)
	if err != nil {
		return nil, err
	}
	b.gauges[name] = registered
	return registered, nil
}

func (b *PrometheusBackend) histogram(name string, labels prom.Labels) (*prom.HistogramVec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if vec, ok := b.histograms[name]; ok {
		return vec, nil
	}
	fullName := b.namespace + "_" + sanitize(name) + "_seconds"
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    fullName,
		Help:    "Duration of " + name + " in seconds.",
		Buckets: prom.DefBuckets,
	}, labelNames(labels))
	registered, err := register(b.registerer, vec, fullName)
	if err != nil {
		return nil, err
	}
	b.histograms[name] = registered
	return registered, nil
}

func register[T prom.Collector](registerer prom.Registerer, collector T, metricName string) (T, error) {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prom.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("metric %q already registered with incompatible collector type %T", metricName, alreadyRegistered.ExistingCollector)
		}
		var zero T
		return zero, fmt.Errorf("register metric %q: %w", metricName, err)
	}
	return collector, nil
}

func labelNames(labels prom.Labels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
