package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsincode/chronograph/internal/db"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type pushCall struct {
	url    string
	params map[string]string
}

// recordingExecutor records pushes and optionally blocks until released.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []pushCall
	block   chan struct{}
	active  int32
	maxSeen int32
	err     error
}

func (e *recordingExecutor) Push(ctx context.Context, url string, params map[string]string) error {
	n := atomic.AddInt32(&e.active, 1)
	defer atomic.AddInt32(&e.active, -1)
	for {
		seen := atomic.LoadInt32(&e.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&e.maxSeen, seen, n) {
			break
		}
	}

	e.mu.Lock()
	e.calls = append(e.calls, pushCall{url: url, params: params})
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.err
}

func (e *recordingExecutor) Calls() []pushCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pushCall(nil), e.calls...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func newTestService(t *testing.T, exec Executor, bus events.Publisher) *Service {
	t.Helper()
	return New(newTestDB(t), exec, bus, Options{
		Workers:      3,
		SyncInterval: 50 * time.Millisecond,
	}, zerolog.Nop())
}

// startService runs svc until the test ends.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestAddJobReplacesByID(t *testing.T) {
	svc := newTestService(t, &recordingExecutor{}, nil)
	ctx := context.Background()
	base := time.Date(2030, 6, 3, 12, 0, 0, 0, time.UTC)

	for i, runAt := range []time.Time{base, base.Add(time.Hour)} {
		err := svc.AddJob(ctx, JobSpec{ID: "a1", Name: "Resync a1", RunAt: runAt, URL: "http://cb/resync/a1"})
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	jobs, err := svc.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if !jobs[0].RunAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("run_at = %s, want %s", jobs[0].RunAt, base.Add(time.Hour))
	}
	if !jobs[0].Due.Equal(base.Add(time.Hour)) {
		t.Fatalf("due defaults to run_at, got %s", jobs[0].Due)
	}
}

func TestAddJobRejectsEmptyID(t *testing.T) {
	svc := newTestService(t, &recordingExecutor{}, nil)
	if err := svc.AddJob(context.Background(), JobSpec{RunAt: time.Now()}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestEnsureJob(t *testing.T) {
	svc := newTestService(t, &recordingExecutor{}, nil)
	ctx := context.Background()
	first := time.Now().Add(time.Hour)

	added, err := svc.EnsureJob(ctx, JobSpec{ID: "resync_all", RunAt: first})
	if err != nil || !added {
		t.Fatalf("first ensure: added=%v err=%v", added, err)
	}
	added, err = svc.EnsureJob(ctx, JobSpec{ID: "resync_all", RunAt: first.Add(time.Hour)})
	if err != nil || added {
		t.Fatalf("second ensure: added=%v err=%v", added, err)
	}
	job, err := svc.GetJob(ctx, "resync_all")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.RunAt.Equal(normalize(first)) {
		t.Fatalf("existing job was replaced: %s", job.RunAt)
	}
}

func TestRemoveJob(t *testing.T) {
	svc := newTestService(t, &recordingExecutor{}, nil)
	ctx := context.Background()
	if err := svc.AddJob(ctx, JobSpec{ID: "x", RunAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RemoveJob(ctx, "x"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := svc.GetJob(ctx, "x"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("get after remove: %v", err)
	}
}

func TestJobFiresOnceAndIsDeleted(t *testing.T) {
	exec := &recordingExecutor{}
	bus := events.NewBus()
	fired := bus.Subscribe(events.EventJobFired)
	svc := newTestService(t, exec, bus)
	startService(t, svc)

	ctx := context.Background()
	err := svc.AddJob(ctx, JobSpec{
		ID:     "a1",
		RunAt:  time.Now().Add(50 * time.Millisecond),
		URL:    "http://cb/resync/a1",
		Params: map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case payload := <-fired:
		if payload["job_id"] != "a1" || payload["outcome"] != "ok" {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := svc.GetJob(ctx, "a1")
		return errors.Is(err, ErrJobNotFound)
	})

	// Give further sync ticks a chance to re-fire it.
	time.Sleep(200 * time.Millisecond)
	calls := exec.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].url != "http://cb/resync/a1" || calls[0].params["k"] != "v" {
		t.Fatalf("unexpected call %+v", calls[0])
	}
}

func TestFailedCallbackStillConsumesJob(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("boom")}
	svc := newTestService(t, exec, nil)
	startService(t, svc)

	ctx := context.Background()
	if err := svc.AddJob(ctx, JobSpec{ID: "a1", RunAt: time.Now()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := svc.GetJob(ctx, "a1")
		return errors.Is(err, ErrJobNotFound)
	})
	if n := len(exec.Calls()); n != 1 {
		t.Fatalf("got %d calls, want 1", n)
	}
}

func TestReplacedJobFiresOnlyOnce(t *testing.T) {
	exec := &recordingExecutor{}
	svc := newTestService(t, exec, nil)
	startService(t, svc)

	ctx := context.Background()
	if err := svc.AddJob(ctx, JobSpec{ID: "a1", RunAt: time.Now().Add(100 * time.Millisecond), URL: "http://cb/old"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.AddJob(ctx, JobSpec{ID: "a1", RunAt: time.Now().Add(300 * time.Millisecond), URL: "http://cb/new"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return len(exec.Calls()) > 0 })
	time.Sleep(300 * time.Millisecond)

	calls := exec.Calls()
	if len(calls) != 1 || calls[0].url != "http://cb/new" {
		t.Fatalf("calls = %+v, want one call to the replacement", calls)
	}
}

func TestMisfiredJobIsDropped(t *testing.T) {
	exec := &recordingExecutor{}
	bus := events.NewBus()
	dropped := bus.Subscribe(events.EventJobDropped)
	svc := newTestService(t, exec, bus)

	ctx := context.Background()
	err := svc.AddJob(ctx, JobSpec{ID: "late", RunAt: time.Now().Add(-2 * time.Hour), MisfireGrace: time.Hour})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	startService(t, svc)

	select {
	case payload := <-dropped:
		if payload["job_id"] != "late" {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("misfired job was not dropped")
	}
	waitFor(t, 2*time.Second, func() bool {
		_, err := svc.GetJob(ctx, "late")
		return errors.Is(err, ErrJobNotFound)
	})
	if n := len(exec.Calls()); n != 0 {
		t.Fatalf("misfired job was executed %d times", n)
	}
}

func TestJobArmedBeforeRunIsPickedUp(t *testing.T) {
	exec := &recordingExecutor{}
	svc := newTestService(t, exec, nil)
	if err := svc.AddJob(context.Background(), JobSpec{ID: "early", RunAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	startService(t, svc)
	waitFor(t, 3*time.Second, func() bool { return len(exec.Calls()) == 1 })
}

func TestSameIDRunsAreSerialized(t *testing.T) {
	release := make(chan struct{})
	exec := &recordingExecutor{block: release}
	svc := newTestService(t, exec, nil)
	startService(t, svc)

	ctx := context.Background()
	if err := svc.AddJob(ctx, JobSpec{ID: "a1", RunAt: time.Now()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(svc.Running()) == 1 })

	// Re-armed while the first run is still executing.
	if err := svc.AddJob(ctx, JobSpec{ID: "a1", RunAt: time.Now()}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := len(exec.Calls()); n != 1 {
		t.Fatalf("second run started while first was executing: %d calls", n)
	}

	close(release)
	waitFor(t, 3*time.Second, func() bool { return len(exec.Calls()) == 2 })
	if m := atomic.LoadInt32(&exec.maxSeen); m != 1 {
		t.Fatalf("max concurrent runs = %d, want 1", m)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, err := svc.GetJob(ctx, "a1")
		return errors.Is(err, ErrJobNotFound)
	})
}

func TestRunRejectsSecondLoop(t *testing.T) {
	svc := newTestService(t, &recordingExecutor{}, nil)
	startService(t, svc)
	waitFor(t, time.Second, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.runCtx != nil
	})
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error starting a second loop")
	}
}

func TestJobKind(t *testing.T) {
	tests := map[string]string{
		"resync_all":  "resync_all",
		"resync_back": "resync_back",
		"recheck_abc": "recheck",
		"abc123":      "resync",
	}
	for id, want := range tests {
		if got := jobKind(id); got != want {
			t.Errorf("jobKind(%q) = %q, want %q", id, got, want)
		}
	}
}
