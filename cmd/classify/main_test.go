package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/TomasB/classify/internal/config"
	"github.com/TomasB/classify/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, metricsTarget string) *config.Config {
	t.Helper()
	return &config.Config{
		Host:             "127.0.0.1",
		Port:             freePort(t),
		GeoIPDBPath:      testutil.WriteCityDB(t),
		GeoIPCacheSize:   16,
		MetricsTarget:    metricsTarget,
		MetricsQueueSize: 64,
		TimeZoneMode:     "none",
		LogLevel:         "info",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_ServesAndFlushesMetricsOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	statsd, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer statsd.Close()

	cfg := testConfig(t, statsd.LocalAddr().String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger()) }()

	url := "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)) + "/"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	var received strings.Builder
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(received.String(), "ongoing_requests:-1|c") {
		require.NoError(t, statsd.SetReadDeadline(deadline))
		n, _, err := statsd.ReadFrom(buf)
		if err != nil {
			break
		}
		received.Write(buf[:n])
		received.WriteByte('\n')
	}
	assert.Contains(t, received.String(), "classify-client.ongoing_requests:1|c")
	assert.Contains(t, received.String(), "classify-client.ongoing_requests:-1|c")
}

func TestRun_ReturnsStartupErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("missing dataset", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.GeoIPDBPath = t.TempDir() + "/missing.mmdb"
		assert.Error(t, run(context.Background(), cfg, discardLogger()))
	})

	t.Run("corrupt dataset", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.GeoIPDBPath = testutil.WriteCorruptDB(t)
		assert.Error(t, run(context.Background(), cfg, discardLogger()))
	})

	t.Run("port in use", func(t *testing.T) {
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer busy.Close()

		cfg := testConfig(t, "")
		cfg.Port = busy.Addr().(*net.TCPAddr).Port
		assert.Error(t, run(context.Background(), cfg, discardLogger()))
	})

	t.Run("invalid trusted proxy", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.TrustedProxyList = []string{"not-a-cidr"}
		assert.Error(t, run(context.Background(), cfg, discardLogger()))
	})
}
