package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	external bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held || f.external {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name    string
	err     error
	panics  bool
	block   chan struct{}
	started chan struct{}
	runs    atomic.Int32
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.started != nil {
		select {
		case t.started <- struct{}{}:
		default:
		}
	}
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
		}
	}
	if t.panics {
		panic("nil map write")
	}
	return t.err
}

func newTestService(t *testing.T, locks LockFactory, entries ...Entry) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(entries...),
		Locks:    locks,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasJobLabel(m, job) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasJobLabel(m *dto.Metric, job string) bool {
	for _, label := range m.GetLabel() {
		if label.GetName() == "job" && label.GetValue() == job {
			return true
		}
	}
	return false
}

func TestRunJobRecordsSuccessAndFailure(t *testing.T) {
	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", err: errors.New("boom")}
	service, reg := newTestService(t, nil)

	ctx := context.Background()
	service.runJob(ctx, ok, nil)
	service.runJob(ctx, bad, nil)

	if got := counterValue(t, reg, "job_success", "ok"); got != 1 {
		t.Fatalf("expected ok success=1, got %v", got)
	}
	if got := counterValue(t, reg, "job_failure", "bad"); got != 1 {
		t.Fatalf("expected bad failure=1, got %v", got)
	}
}

func TestRunJobRecoversPanic(t *testing.T) {
	job := &testJob{name: "panicky", panics: true}
	service, reg := newTestService(t, nil)

	service.runJob(context.Background(), job, nil)

	if got := counterValue(t, reg, "job_failure", "panicky"); got != 1 {
		t.Fatalf("expected panic counted as failure, got %v", got)
	}
}

func TestTickSkipsWhileRunInFlight(t *testing.T) {
	job := &testJob{name: "slow", block: make(chan struct{}), started: make(chan struct{}, 4)}
	service, reg := newTestService(t, nil, Entry{Job: job, Interval: time.Hour})
	sup, err := service.newSupervisor(service.registry.Entries()[0])
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}
	ctx := context.Background()

	if !sup.tick(ctx) {
		t.Fatal("expected first tick to start a run")
	}
	<-job.started
	if sup.tick(ctx) {
		t.Fatal("expected overlapping tick to be skipped")
	}
	if got := counterValue(t, reg, "job_skipped", "slow"); got != 1 {
		t.Fatalf("expected skipped=1, got %v", got)
	}

	close(job.block)
	sup.wg.Wait()
	if !sup.tick(ctx) {
		t.Fatal("expected tick after completion to start a run")
	}
	<-job.started
	sup.wg.Wait()
	if got := job.runs.Load(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestRunJobSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &testJob{name: "locked"}
	lock := &fakeLock{external: true}
	service, reg := newTestService(t, nil)

	service.runJob(context.Background(), job, lock)

	if job.runs.Load() != 0 {
		t.Fatal("job must not run without the lock")
	}
	if got := counterValue(t, reg, "job_skipped", "locked"); got != 1 {
		t.Fatalf("expected skipped=1, got %v", got)
	}
}

func TestRunJobReleasesLock(t *testing.T) {
	job := &testJob{name: "exclusive"}
	lock := &fakeLock{}
	service, _ := newTestService(t, nil)

	service.runJob(context.Background(), job, lock)

	if job.runs.Load() != 1 || lock.released != 1 || lock.held {
		t.Fatalf("expected one run and a released lock, runs=%d released=%d held=%v", job.runs.Load(), lock.released, lock.held)
	}
}

func TestRunStartsEveryJobAndStopsOnCancel(t *testing.T) {
	fast := &testJob{name: "fast", started: make(chan struct{}, 64)}
	slow := &testJob{name: "slow", started: make(chan struct{}, 64)}
	locks := map[string]*fakeLock{}
	var mu sync.Mutex
	factory := func(job string) (Lock, error) {
		mu.Lock()
		defer mu.Unlock()
		locks[job] = &fakeLock{}
		return locks[job], nil
	}
	service, _ := newTestService(t, factory,
		Entry{Job: fast, Interval: 10 * time.Millisecond},
		Entry{Job: slow, Interval: time.Hour},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	<-fast.started
	<-fast.started
	<-slow.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if len(locks) != 2 {
		t.Fatalf("expected a lock per job, got %d", len(locks))
	}
}

func TestRunRequiresJobs(t *testing.T) {
	service, _ := newTestService(t, nil)
	if err := service.Run(context.Background()); err == nil {
		t.Fatal("expected error without jobs")
	}
}
