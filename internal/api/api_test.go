package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsincode/chronograph/internal/auth"
	"github.com/friendsincode/chronograph/internal/cache"
	"github.com/friendsincode/chronograph/internal/calendar"
	"github.com/friendsincode/chronograph/internal/db"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

var kiev = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Kiev")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fakeJobs struct {
	jobs []models.Job
	err  error
}

func (f *fakeJobs) ListJobs(context.Context) ([]models.Job, error) { return f.jobs, f.err }

type fakeResyncer struct {
	next    time.Time
	nextURL string
	err     error
	calls   []string
}

func (f *fakeResyncer) Resync(_ context.Context, id string) (time.Time, error) {
	f.calls = append(f.calls, "resync "+id)
	return f.next, f.err
}

func (f *fakeResyncer) Recheck(_ context.Context, id string) (time.Time, error) {
	f.calls = append(f.calls, "recheck "+id)
	return f.next, f.err
}

func (f *fakeResyncer) ResyncForward(_ context.Context, u string) (string, error) {
	f.calls = append(f.calls, "forward "+u)
	return f.nextURL, f.err
}

func (f *fakeResyncer) ResyncBackward(_ context.Context, u string) (string, error) {
	f.calls = append(f.calls, "backward "+u)
	return f.nextURL, f.err
}

func newTestRouter(t *testing.T, jobs Jobs, resync Resyncer, secret []byte) http.Handler {
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
	store, err := calendar.NewStore(database, cache.Disabled(zerolog.Nop()), events.NewBus(), kiev, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	a := New(jobs, resync, store, []string{"streams", "dutch_streams", "texas_streams"}, secret, kiev, zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) (int, any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var body any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rr.Body.String(), err)
	}
	return rr.Code, body
}

func TestJobsList(t *testing.T) {
	runAt := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	h := newTestRouter(t, &fakeJobs{jobs: []models.Job{{ID: "resync_all", RunAt: runAt}}}, &fakeResyncer{}, nil)

	code, body := do(t, h, http.MethodGet, "/", nil)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	jobs := body.(map[string]any)["jobs"].(map[string]any)
	if jobs["resync_all"] != "2024-06-03T12:00:00+03:00" {
		t.Fatalf("jobs = %v", jobs)
	}
}

func TestJobsListError(t *testing.T) {
	h := newTestRouter(t, &fakeJobs{err: errors.New("db down")}, &fakeResyncer{}, nil)
	if code, _ := do(t, h, http.MethodGet, "/", nil); code != http.StatusInternalServerError {
		t.Fatalf("status %d", code)
	}
}

func TestCallbacks(t *testing.T) {
	next := time.Date(2024, 6, 3, 9, 5, 0, 0, time.UTC)
	tests := []struct {
		name     string
		target   string
		resync   *fakeResyncer
		wantCall string
		want     any
	}{
		{
			name:     "resync with follow-up",
			target:   "/resync/a1",
			resync:   &fakeResyncer{next: next},
			wantCall: "resync a1",
			want:     "2024-06-03T12:05:00+03:00",
		},
		{
			name:     "resync with nothing pending",
			target:   "/resync/a1",
			resync:   &fakeResyncer{},
			wantCall: "resync a1",
			want:     nil,
		},
		{
			name:     "recheck",
			target:   "/recheck/a1",
			resync:   &fakeResyncer{next: next},
			wantCall: "recheck a1",
			want:     "2024-06-03T12:05:00+03:00",
		},
		{
			name:     "resync all passes the cursor",
			target:   "/resync_all?url=http%3A%2F%2Fapi%2Fauctions%3Foffset%3D1",
			resync:   &fakeResyncer{nextURL: "http://api/auctions?offset=2"},
			wantCall: "forward http://api/auctions?offset=1",
			want:     "http://api/auctions?offset=2",
		},
		{
			name:     "resync back",
			target:   "/resync_back",
			resync:   &fakeResyncer{nextURL: ""},
			wantCall: "backward ",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeJobs{}, tt.resync, nil)
			code, body := do(t, h, http.MethodGet, tt.target, nil)
			if code != http.StatusOK {
				t.Fatalf("status %d", code)
			}
			if body != tt.want {
				t.Fatalf("body = %v, want %v", body, tt.want)
			}
			if len(tt.resync.calls) != 1 || tt.resync.calls[0] != tt.wantCall {
				t.Fatalf("calls = %v", tt.resync.calls)
			}
		})
	}
}

func TestCalendarEndpoints(t *testing.T) {
	h := newTestRouter(t, &fakeJobs{}, &fakeResyncer{}, nil)

	steps := []struct {
		method string
		target string
		code   int
		want   string
	}{
		{http.MethodGet, "/calendar", 200, "[]"},
		{http.MethodPost, "/calendar/2024-08-24", 200, "true"},
		{http.MethodPost, "/calendar/2024-01-01", 200, "true"},
		{http.MethodGet, "/calendar/2024-08-24", 200, "true"},
		{http.MethodGet, "/calendar", 200, `["2024-01-01","2024-08-24"]`},
		{http.MethodDelete, "/calendar/2024-08-24", 200, "false"},
		{http.MethodGet, "/calendar/2024-08-24", 200, "false"},
		{http.MethodGet, "/calendar/24-08-2024", 400, `{"error":"invalid_date"}`},
	}
	for _, s := range steps {
		code, body := do(t, h, s.method, s.target, nil)
		got, _ := json.Marshal(body)
		if code != s.code || string(got) != s.want {
			t.Fatalf("%s %s = %d %s, want %d %s", s.method, s.target, code, got, s.code, s.want)
		}
	}
}

func TestStreamsEndpoints(t *testing.T) {
	h := newTestRouter(t, &fakeJobs{}, &fakeResyncer{}, nil)

	steps := []struct {
		method string
		target string
		want   string
	}{
		{http.MethodGet, "/streams", "10"},
		{http.MethodGet, "/streams?dutch_streams=yes", "15"},
		{http.MethodGet, "/streams?texas_streams=True", "20"},
		{http.MethodGet, "/streams?texas_streams=no", "10"},
		{http.MethodPost, "/streams?streams=12&dutch_streams=abc", "true"},
		{http.MethodGet, "/streams", "12"},
		{http.MethodGet, "/streams?dutch_streams=y", "15"},
		{http.MethodPost, "/streams?streams=-1", "false"},
		{http.MethodPost, "/streams?unknown=3", "false"},
		{http.MethodGet, "/streams", "12"},
	}
	for _, s := range steps {
		code, body := do(t, h, s.method, s.target, nil)
		got, _ := json.Marshal(body)
		if code != http.StatusOK || string(got) != s.want {
			t.Fatalf("%s %s = %d %s, want %s", s.method, s.target, code, got, s.want)
		}
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	secret := []byte("test-secret")
	h := newTestRouter(t, &fakeJobs{}, &fakeResyncer{}, secret)

	if code, _ := do(t, h, http.MethodPost, "/calendar/2024-08-24", nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST got %d", code)
	}
	if code, _ := do(t, h, http.MethodGet, "/calendar/2024-08-24", nil); code != http.StatusOK {
		t.Fatalf("GET should stay open, got %d", code)
	}

	token, err := auth.Issue(secret, "ops", []string{auth.ScopeAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	code, body := do(t, h, http.MethodPost, "/streams?streams=7", header)
	if code != http.StatusOK || body != true {
		t.Fatalf("authorized POST = %d %v", code, body)
	}
	if code, _ := do(t, h, http.MethodPost, "/calendar/2024-08-24", http.Header{"Authorization": []string{"Bearer " + strings.Repeat("x", 10)}}); code != http.StatusUnauthorized {
		t.Fatalf("bad token got %d", code)
	}
}

// slowResyncer takes longer than the pushing client is willing to wait.
type slowResyncer struct {
	fakeResyncer
	delay     time.Duration
	runs      atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *slowResyncer) run() {
	s.runs.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)
}

func (s *slowResyncer) ResyncForward(context.Context, string) (string, error) {
	s.run()
	return "http://feed/next", nil
}

func (s *slowResyncer) Resync(context.Context, string) (time.Time, error) {
	s.run()
	return time.Time{}, nil
}

func TestSlowCallbackPushedOnce(t *testing.T) {
	for _, target := range []string{"/resync_all", "/resync/a1"} {
		t.Run(target, func(t *testing.T) {
			resync := &slowResyncer{delay: 400 * time.Millisecond}
			srv := httptest.NewServer(newTestRouter(t, &fakeJobs{}, resync, nil))
			defer srv.Close()

			hc := srv.Client()
			hc.Timeout = 100 * time.Millisecond
			client := registry.NewWithHTTPClient(registry.Config{
				Timeout:          100 * time.Millisecond,
				RetryUnit:        time.Millisecond,
				RetryMaxInterval: 5 * time.Millisecond,
				RetryMaxElapsed:  2 * time.Second,
			}, hc, zerolog.Nop())

			if err := client.Push(context.Background(), srv.URL+target, nil); err != nil {
				t.Fatalf("push: %v", err)
			}
			if resync.runs.Load() != 1 || resync.maxActive.Load() != 1 {
				t.Fatalf("ran %d times, %d at once; want exactly one run", resync.runs.Load(), resync.maxActive.Load())
			}
		})
	}
}

func TestConcurrentCallbacksShareOneRun(t *testing.T) {
	resync := &slowResyncer{delay: 300 * time.Millisecond}
	h := newTestRouter(t, &fakeJobs{}, resync, nil)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	bodies := make([]string, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/resync_all", nil))
			codes[i], bodies[i] = rr.Code, strings.TrimSpace(rr.Body.String())
		}(i)
	}
	wg.Wait()

	if resync.runs.Load() != 1 {
		t.Fatalf("sweep ran %d times, want 1", resync.runs.Load())
	}
	for i := range codes {
		if codes[i] != http.StatusOK || bodies[i] != `"http://feed/next"` {
			t.Fatalf("request %d: %d %s", i, codes[i], bodies[i])
		}
	}

	// A later callback starts a fresh run.
	if code, _ := do(t, h, http.MethodGet, "/resync_all", nil); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resync.runs.Load() != 2 {
		t.Fatalf("sweep ran %d times, want 2", resync.runs.Load())
	}
}
