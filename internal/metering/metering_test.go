package metering

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunScansOnInterval(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, Config{Interval: 10 * time.Millisecond}, m, time.Now()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := testutil.ToFloat64(m.GoroutineCount); got <= 0 {
		t.Fatalf("GoroutineCount = %v, want > 0", got)
	}
}

func TestSdNotifyNoSocket(t *testing.T) {
	os.Unsetenv("NOTIFY_SOCKET")
	if err := sdNotify("READY=1"); err != nil {
		t.Errorf("sdNotify with no socket = %v, want nil", err)
	}
}

func TestSdNotifyBadSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "/nonexistent/cantal-test.sock")
	if err := sdNotify("READY=1"); err == nil {
		t.Error("sdNotify with bad socket should return an error")
	}
}

func TestRunListensOnMetricsAddress(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, Config{Interval: time.Hour, ListenAddress: "127.0.0.1:0"}, m, time.Now()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
