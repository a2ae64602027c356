package poller

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// collectSink records published events.
type collectSink struct {
	mu     sync.Mutex
	events []snapshot.Event
}

func (s *collectSink) Publish(ev snapshot.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectSink) all() []snapshot.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snapshot.Event(nil), s.events...)
}

func testConfig() *Config {
	return &Config{
		Interval: MinInterval,
		Logger:   log.New(io.Discard, "", 0),
	}
}

func staticFetch(s *snapshot.Snapshot) FetchFunc {
	return func(ctx context.Context) (*snapshot.Snapshot, error) {
		return s, nil
	}
}

func snapshotWithTask(id, title string) *snapshot.Snapshot {
	s := snapshot.New(time.Now())
	s.Projects["proj1"] = &snapshot.Project{
		ID:    "proj1",
		Name:  "Inbox",
		Tasks: []snapshot.Task{{ID: id, ProjectID: "proj1", Title: title}},
	}
	return s
}

func TestPollOnceRetainsSnapshot(t *testing.T) {
	want := snapshotWithTask("task1", "A")
	sink := &collectSink{}
	p := New(staticFetch(want), sink, testConfig())

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error: %v", err)
	}

	if got := p.Snapshot(); got != want {
		t.Errorf("Snapshot() = %p, want the fetched snapshot %p", got, want)
	}
	if health := p.Health(); !health.Available {
		t.Errorf("health not available after success: %+v", health)
	}
}

func TestFirstPollEmitsNoCreatedEvents(t *testing.T) {
	sink := &collectSink{}
	p := New(staticFetch(snapshotWithTask("task1", "A")), sink, testConfig())

	events, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("first poll emitted %+v, want none", events)
	}
}

func TestSecondPollEmitsCreated(t *testing.T) {
	snapshots := []*snapshot.Snapshot{
		snapshotWithTask("task1", "A"),
		func() *snapshot.Snapshot {
			s := snapshotWithTask("task1", "A")
			s.Projects["proj1"].Tasks = append(s.Projects["proj1"].Tasks,
				snapshot.Task{ID: "task2", ProjectID: "proj1", Title: "B"})
			return s
		}(),
	}
	call := 0
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		s := snapshots[call]
		call++
		return s, nil
	}

	sink := &collectSink{}
	p := New(fetch, sink, testConfig())

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	events, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if len(events) != 1 || events[0].Type != snapshot.EventTaskCreated || events[0].TaskID != "task2" {
		t.Errorf("got %+v, want one created event for task2", events)
	}
	if got := sink.all(); len(got) != 1 {
		t.Errorf("sink received %d events, want 1", len(got))
	}
}

func TestFetchFailureLeavesSnapshotUntouched(t *testing.T) {
	retained := snapshotWithTask("task1", "A")
	call := 0
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		call++
		if call == 1 {
			return retained, nil
		}
		return nil, &ticktick.APIError{StatusCode: 503, Body: "unavailable"}
	}

	p := New(fetch, &collectSink{}, testConfig())

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("second poll should fail")
	}

	if got := p.Snapshot(); got != retained {
		t.Error("failed poll replaced the retained snapshot")
	}

	health := p.Health()
	if health.Available {
		t.Error("health still available after failure")
	}
	if health.AuthFailed {
		t.Error("transient failure flagged as auth failure")
	}
	if health.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", health.ConsecutiveFailures)
	}
}

func TestAuthFailureIsDistinguished(t *testing.T) {
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		return nil, &ticktick.AuthError{Message: "token revoked"}
	}

	p := New(fetch, &collectSink{}, testConfig())

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
	if health := p.Health(); !health.AuthFailed {
		t.Errorf("auth failure not flagged: %+v", health)
	}
}

func TestRateLimitExtendsDelayWithoutShrinkingInterval(t *testing.T) {
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		return nil, &ticktick.RateLimitError{RetryAfter: 2 * MinInterval}
	}

	p := New(fetch, &collectSink{}, testConfig())

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected rate limit error")
	}

	delay := p.nextDelay()
	if delay < p.Interval() {
		t.Errorf("delay %s shrank below interval %s", delay, p.Interval())
	}
	if delay <= 2*MinInterval {
		t.Errorf("delay %s does not include the retry-after backoff", delay)
	}

	// Backoff is consumed: the following delay returns to the interval.
	if next := p.nextDelay(); next != p.Interval() {
		t.Errorf("second delay = %s, want interval %s", next, p.Interval())
	}
}

func TestOverlappingPollIsSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		close(started)
		<-release
		return snapshot.New(time.Now()), nil
	}

	p := New(fetch, &collectSink{}, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := p.PollOnce(context.Background())
		done <- err
	}()

	<-started
	if _, err := p.PollOnce(context.Background()); !errors.Is(err, ErrPollInFlight) {
		t.Errorf("concurrent poll error = %v, want ErrPollInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
}

func TestRequestRefreshCoalesces(t *testing.T) {
	p := New(staticFetch(snapshot.New(time.Now())), &collectSink{}, testConfig())

	// Many requests while none are being consumed collapse to one.
	for i := 0; i < 10; i++ {
		p.RequestRefresh()
	}
	if n := len(p.refresh); n != 1 {
		t.Errorf("pending refreshes = %d, want 1", n)
	}
}

func TestSetIntervalClamps(t *testing.T) {
	p := New(staticFetch(snapshot.New(time.Now())), &collectSink{}, testConfig())

	p.SetInterval(time.Second)
	if got := p.Interval(); got != MinInterval {
		t.Errorf("interval = %s, want clamped to %s", got, MinInterval)
	}
	p.SetInterval(100 * time.Hour)
	if got := p.Interval(); got != MaxInterval {
		t.Errorf("interval = %s, want clamped to %s", got, MaxInterval)
	}
}

type countObserver struct {
	mu sync.Mutex
	n  int
}

func (o *countObserver) OnSnapshot(*snapshot.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
}

func TestObserversNotifiedOnSuccessOnly(t *testing.T) {
	call := 0
	fetch := func(ctx context.Context) (*snapshot.Snapshot, error) {
		call++
		if call == 2 {
			return nil, &ticktick.APIError{StatusCode: 500}
		}
		return snapshot.New(time.Now()), nil
	}

	p := New(fetch, &collectSink{}, testConfig())
	obs := &countObserver{}
	p.AddObserver(obs)

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	if obs.n != 2 {
		t.Errorf("observer notified %d times, want 2 (failures excluded)", obs.n)
	}
}

type fakeAPI struct {
	projects    []ticktick.Project
	data        map[string]*ticktick.ProjectData
	projectsErr error
	dataErr     map[string]error
}

func (f *fakeAPI) GetProjects(ctx context.Context) ([]ticktick.Project, error) {
	return f.projects, f.projectsErr
}

func (f *fakeAPI) GetProjectData(ctx context.Context, id string) (*ticktick.ProjectData, error) {
	if err := f.dataErr[id]; err != nil {
		return nil, err
	}
	return f.data[id], nil
}

func TestFetcherBuildsSnapshot(t *testing.T) {
	api := &fakeAPI{
		projects: []ticktick.Project{
			{ID: "proj1", Name: "Inbox"},
			{ID: "proj2", Name: "Work"},
		},
		data: map[string]*ticktick.ProjectData{
			"proj1": {Tasks: []ticktick.Task{
				{ID: "task1", ProjectID: "proj1", Title: "A", DueDate: "2026-09-01T10:00:00+0000", Priority: 5},
				{ID: "task2", ProjectID: "proj1", Title: "B", Status: ticktick.StatusCompleted},
			}},
			"proj2": {Tasks: nil},
		},
	}

	fetch := NewFetcher(api, log.New(io.Discard, "", 0))
	s, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	if len(s.Projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(s.Projects))
	}
	tasks := s.Projects["proj1"].Tasks
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Due == nil || tasks[0].Priority != 5 {
		t.Errorf("task1 not converted: %+v", tasks[0])
	}
	if !tasks[1].Completed {
		t.Error("status 2 task not marked completed")
	}
}

func TestFetcherDegradesPerProjectFailure(t *testing.T) {
	api := &fakeAPI{
		projects: []ticktick.Project{{ID: "proj1", Name: "Flaky"}},
		dataErr:  map[string]error{"proj1": &ticktick.APIError{StatusCode: 500}},
	}

	fetch := NewFetcher(api, log.New(io.Discard, "", 0))
	s, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("per-project failure should not abort the cycle: %v", err)
	}
	if p := s.Projects["proj1"]; p == nil || len(p.Tasks) != 0 {
		t.Errorf("flaky project should be present with no tasks: %+v", p)
	}
}

func TestFetcherAbortsOnAuthFailure(t *testing.T) {
	api := &fakeAPI{
		projects: []ticktick.Project{{ID: "proj1", Name: "Inbox"}},
		dataErr:  map[string]error{"proj1": &ticktick.AuthError{Message: "revoked"}},
	}

	fetch := NewFetcher(api, log.New(io.Discard, "", 0))
	if _, err := fetch(context.Background()); !ticktick.IsAuth(err) {
		t.Errorf("fetch error = %v, want auth error", err)
	}
}
