package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/probe"
	"github.com/probegw/probegw/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countedConn decrements the in-flight counter when the probe releases the
// connection, so the count tracks the probe lifetime rather than the server
// goroutine's.
type countedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *countedConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}

// newTestRegistry builds a registry whose broker dials an in-memory Zabbix
// agent. inFlight, when non-nil, tracks connections between dial and the
// probe's Close.
func newTestRegistry(t *testing.T, inFlight *atomic.Int32, peak *atomic.Int32) *probe.Registry {
	t.Helper()

	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if inFlight != nil {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		}
		client, server := net.Pipe()
		go func() {
			defer server.Close() //nolint:errcheck
			if inFlight != nil {
				// Hold the probe long enough for overlap to be observable.
				time.Sleep(20 * time.Millisecond)
			}
			if _, err := wire.ReadFrame(server, wire.ProfileZabbix, 1<<20); err != nil {
				return
			}
			_ = wire.WriteFrame(server, []byte("1"), wire.ProfileZabbix)
		}()
		if inFlight != nil {
			return &countedConn{Conn: client, release: func() { inFlight.Add(-1) }}, nil
		}
		return client, nil
	}

	broker := gateway.NewBroker(nil,
		gateway.WithDialFunc(dial),
		gateway.WithLogger(discardLogger()),
	)
	return probe.NewRegistry(probe.Deps{Broker: broker, Logger: discardLogger()})
}

func testJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			Protocol: "zabbix",
			Target:   probe.Target{Host: "192.0.2.10", Timeout: 5 * time.Second},
		}
	}
	return jobs
}

// TestBatchRunnerRun tests ordered collection of outcomes.
func TestBatchRunnerRun(t *testing.T) {
	t.Parallel()

	runner := NewBatchRunner(newTestRegistry(t, nil, nil), WithBatchLogger(discardLogger()))

	jobs := testJobs(5)
	jobs[2] = Job{Protocol: "gopher", Target: probe.Target{Host: "192.0.2.10", Timeout: time.Second}}

	outcomes, err := runner.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 5 {
		t.Fatalf("len(outcomes) = %d, want 5", len(outcomes))
	}

	for i, o := range outcomes {
		if i == 2 {
			if o.Err == nil {
				t.Error("expected error for unknown protocol")
			}
			if o.Result == nil {
				t.Error("expected placeholder result for failed job")
			}
			continue
		}
		if o.Err != nil {
			t.Errorf("outcome %d: unexpected error %v", i, o.Err)
			continue
		}
		if !o.Result.Detected {
			t.Errorf("outcome %d: expected detected", i)
		}
		if o.Job.Protocol != "zabbix" {
			t.Errorf("outcome %d: job out of order", i)
		}
	}
}

// TestBatchRunnerConcurrencyLimit tests that SetLimit bounds overlap.
func TestBatchRunnerConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	runner := NewBatchRunner(
		newTestRegistry(t, &inFlight, &peak),
		WithConcurrency(2),
		WithBatchLogger(discardLogger()),
	)

	if _, err := runner.Run(context.Background(), testJobs(8)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

// TestBatchRunnerCallbackSerialized tests streaming callbacks.
func TestBatchRunnerCallbackSerialized(t *testing.T) {
	t.Parallel()

	runner := NewBatchRunner(newTestRegistry(t, nil, nil), WithBatchLogger(discardLogger()))

	var calls int
	seen := make(map[int]bool)
	err := runner.RunWithCallback(context.Background(), testJobs(4), func(o Outcome, index int) {
		calls++ // callbacks are serialized, no lock needed
		seen[index] = true
	})
	if err != nil {
		t.Fatalf("RunWithCallback: %v", err)
	}
	if calls != 4 {
		t.Errorf("callback calls = %d, want 4", calls)
	}
	for i := range 4 {
		if !seen[i] {
			t.Errorf("missing callback for index %d", i)
		}
	}
}

// TestBatchRunnerCancellation tests that a cancelled context stops the batch.
func TestBatchRunnerCancellation(t *testing.T) {
	t.Parallel()

	runner := NewBatchRunner(newTestRegistry(t, nil, nil), WithBatchLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, testJobs(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
