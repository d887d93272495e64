package metrics

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend keeps every event it receives.
type recordingBackend struct {
	mu      sync.Mutex
	events  []Event
	sendErr error
	closed  bool
	block   chan struct{}
}

func (b *recordingBackend) Send(e Event) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return b.sendErr
}

func (b *recordingBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *recordingBackend) snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func TestClient_DeliversInOrder(t *testing.T) {
	backend := &recordingBackend{}
	client := NewWithBackends([]Backend{backend})

	client.Incr(MetricOngoingRequests)
	client.Timing(MetricResponse, 15*time.Millisecond, Tag{Key: TagStatus, Value: StatusSuccess})
	client.Decr(MetricOngoingRequests)
	require.NoError(t, client.Close())

	events := backend.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, Event{Name: MetricOngoingRequests, Kind: KindCounter, Value: 1}, events[0])
	assert.Equal(t, MetricResponse, events[1].Name)
	assert.Equal(t, KindTimer, events[1].Kind)
	assert.Equal(t, 15*time.Millisecond, events[1].Duration)
	assert.Equal(t, []Tag{{Key: TagStatus, Value: StatusSuccess}}, events[1].Tags)
	assert.Equal(t, Event{Name: MetricOngoingRequests, Kind: KindCounter, Value: -1}, events[2])
	assert.True(t, backend.closed)
}

func TestClient_NeverBlocks(t *testing.T) {
	backend := &recordingBackend{block: make(chan struct{})}
	client := NewWithBackends([]Backend{backend}, WithQueueSize(1))

	start := time.Now()
	for range 1000 {
		client.Incr(MetricOngoingRequests)
		client.Timing(MetricResponse, time.Millisecond)
		client.Decr(MetricOngoingRequests)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, client.Dropped())

	close(backend.block)
	require.NoError(t, client.Close())
}

// slowBackend delays every send to keep the queue saturated.
type slowBackend struct {
	recordingBackend
	delay time.Duration
}

func (b *slowBackend) Send(e Event) error {
	time.Sleep(b.delay)
	return b.recordingBackend.Send(e)
}

func counterTotals(events []Event, name string) (incr, decr int64) {
	for _, e := range events {
		if e.Kind != KindCounter || e.Name != name {
			continue
		}
		if e.Value > 0 {
			incr += e.Value
		} else {
			decr -= e.Value
		}
	}
	return incr, decr
}

func TestClient_FullQueueKeepsCountersBalanced(t *testing.T) {
	backend := &slowBackend{delay: 2 * time.Millisecond}
	client := NewWithBackends([]Backend{backend}, WithQueueSize(4))

	for range 50 {
		client.Incr(MetricOngoingRequests)
		client.Timing(MetricResponse, time.Millisecond, Tag{Key: TagStatus, Value: StatusSuccess})
		client.Decr(MetricOngoingRequests)
	}
	require.NoError(t, client.Close())

	incr, decr := counterTotals(backend.snapshot(), MetricOngoingRequests)
	assert.Equal(t, incr, decr)
	assert.Positive(t, incr)
	assert.Positive(t, client.Dropped(), "timers are still dropped when the queue is full")
}

func TestClient_FullQueueKeepsGaugeAtZero(t *testing.T) {
	reg := prom.NewRegistry()
	mirror := NewPrometheusBackend(reg, "")
	slow := &slowPrometheus{PrometheusBackend: mirror, delay: time.Millisecond}
	client := NewWithBackends([]Backend{slow}, WithQueueSize(2))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				client.Incr(MetricOngoingRequests)
				client.Timing(MetricResponse, time.Millisecond, Tag{Key: TagStatus, Value: StatusError})
				client.Decr(MetricOngoingRequests)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, client.Close())

	assert.Equal(t, float64(0), promtest.ToFloat64(mirror.gauges[MetricOngoingRequests].WithLabelValues()))
}

type slowPrometheus struct {
	*PrometheusBackend
	delay time.Duration
}

func (b *slowPrometheus) Send(e Event) error {
	time.Sleep(b.delay)
	return b.PrometheusBackend.Send(e)
}

func TestClient_FoldsPerSeries(t *testing.T) {
	backend := &recordingBackend{block: make(chan struct{})}
	client := NewWithBackends([]Backend{backend}, WithQueueSize(1))

	tagA := Tag{Key: "route", Value: "a"}
	tagB := Tag{Key: "route", Value: "b"}
	for range 5 {
		client.Incr("hits", tagA)
		client.Incr("hits", tagB)
		client.Decr("hits", tagB)
	}
	close(backend.block)
	require.NoError(t, client.Close())

	totals := map[string]int64{}
	for _, e := range backend.snapshot() {
		require.Equal(t, "hits", e.Name)
		totals[e.Tags[0].Value] += e.Value
	}
	assert.Equal(t, map[string]int64{"a": 5, "b": 0}, totals)
}

func TestClient_ErrorHandler(t *testing.T) {
	backend := &recordingBackend{sendErr: errors.New("connection refused")}

	var mu sync.Mutex
	var got []error
	client := NewWithBackends([]Backend{backend}, WithErrorHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	}))

	client.Incr(MetricOngoingRequests)
	require.NoError(t, client.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], backend.sendErr)
	assert.Contains(t, got[0].Error(), "counter ongoing_requests")
}

func TestClient_DropsAfterClose(t *testing.T) {
	backend := &recordingBackend{}
	client := NewWithBackends([]Backend{backend})
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	client.Incr(MetricOngoingRequests)
	assert.Empty(t, backend.snapshot())
	assert.Equal(t, int64(1), client.Dropped())
}

func TestNew_UnusableTargetFallsBackToNop(t *testing.T) {
	for _, target := range []string{"", "127.0.0.1:99999", "no port"} {
		t.Run(target, func(t *testing.T) {
			client := New(target)
			assert.True(t, client.IsNop())

			client.Incr(MetricOngoingRequests)
			client.Timing(MetricResponse, time.Millisecond, Tag{Key: TagStatus, Value: StatusError})
			client.Decr(MetricOngoingRequests)
			assert.Zero(t, client.Dropped())
			require.NoError(t, client.Close())
		})
	}
}

func TestNew_UnusableTargetKeepsExtraBackends(t *testing.T) {
	backend := &recordingBackend{}
	client := New("127.0.0.1:99999", WithBackend(backend))
	assert.False(t, client.IsNop())

	client.Incr(MetricOngoingRequests)
	require.NoError(t, client.Close())
	assert.Len(t, backend.snapshot(), 1)
}

func TestNew_UnroutableTarget(t *testing.T) {
	// TEST-NET-1 resolves but nothing listens; sends must be absorbed.
	client := New("192.0.2.1:8125", WithFlushInterval(5*time.Millisecond))
	assert.False(t, client.IsNop())

	client.Incr(MetricOngoingRequests)
	client.Decr(MetricOngoingRequests)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())
}

func TestNew_StatsdWireFormat(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	client := New(conn.LocalAddr().String(), WithFlushInterval(5*time.Millisecond))
	require.False(t, client.IsNop())

	client.Incr(MetricOngoingRequests)
	client.Timing(MetricResponse, 12*time.Millisecond, Tag{Key: TagStatus, Value: StatusSuccess})
	client.Decr(MetricOngoingRequests)
	require.NoError(t, client.Close())

	var received strings.Builder
	buf := make([]byte, 4096)
	want := []string{
		"classify-client.ongoing_requests:1|c",
		"classify-client.response:",
		"status:success",
		"classify-client.ongoing_requests:-1|c",
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		received.Write(buf[:n])
		received.WriteByte('\n')
		if containsAll(received.String(), want) {
			break
		}
	}

	for _, w := range want {
		assert.Contains(t, received.String(), w)
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
