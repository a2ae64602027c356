// Package poller drives the poll-and-diff loop against the TickTick API.
//
// The poller:
//  1. Fetches a full snapshot of remote state on a fixed interval
//  2. Diffs it against the previously retained snapshot
//  3. Forwards the resulting events to the event sink
//  4. Retains the new snapshot and discards the old one
//
// One poll is in flight at a time; a tick that fires while a fetch is still
// outstanding is skipped rather than queued. Command handlers request an
// out-of-band poll through RequestRefresh after a successful mutation.
package poller

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// Interval bounds. The configured interval is clamped into this range.
const (
	MinInterval     = 60 * time.Second
	MaxInterval     = 3600 * time.Second
	DefaultInterval = 300 * time.Second
)

// DefaultDueSoonWindow is the lookahead for due-soon events.
const DefaultDueSoonWindow = 30 * time.Minute

// ErrPollInFlight is returned by PollOnce when another poll is running.
var ErrPollInFlight = errors.New("poll already in flight")

// FetchFunc produces a fresh snapshot of remote state.
type FetchFunc func(ctx context.Context) (*snapshot.Snapshot, error)

// Sink receives the events a diff produces.
type Sink interface {
	Publish(ev snapshot.Event)
}

// Observer is notified after each successful poll with the new snapshot.
// Status surfaces implement this instead of inheriting update handling.
type Observer interface {
	OnSnapshot(s *snapshot.Snapshot)
}

// Health describes the poller's availability for the health endpoint.
type Health struct {
	Available           bool       `json:"available"`
	AuthFailed          bool       `json:"auth_failed"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastAttempt         *time.Time `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
}

// Config holds poller configuration.
type Config struct {
	// Interval between polls, clamped to [MinInterval, MaxInterval].
	Interval time.Duration

	// DueSoonWindow is the due-soon lookahead.
	DueSoonWindow time.Duration

	// FailureThreshold is how many consecutive failures escalate the log
	// level from warn to error.
	FailureThreshold int

	// Logger for poll activity.
	Logger *log.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         DefaultInterval,
		DueSoonWindow:    DefaultDueSoonWindow,
		FailureThreshold: 3,
		Logger:           log.New(os.Stderr, "[poller] ", log.LstdFlags),
		Now:              time.Now,
	}
}

// ClampInterval forces d into the supported polling range.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Poller owns the single previous-snapshot cell and the poll state machine.
type Poller struct {
	fetch     FetchFunc
	sink      Sink
	observers []Observer
	logger    *log.Logger
	now       func() time.Time
	threshold int

	mu       sync.RWMutex
	prev     *snapshot.Snapshot
	health   Health
	interval time.Duration
	window   time.Duration
	backoff  time.Duration

	refresh chan struct{}

	pollMu sync.Mutex // held for the duration of one poll
	inPoll bool
}

// New creates a poller. fetch and sink are required; config may be nil.
func New(fetch FetchFunc, sink Sink, config *Config) *Poller {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[poller] ", log.LstdFlags)
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	threshold := config.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	window := config.DueSoonWindow
	if window <= 0 {
		window = DefaultDueSoonWindow
	}

	return &Poller{
		fetch:     fetch,
		sink:      sink,
		logger:    logger,
		now:       now,
		threshold: threshold,
		interval:  ClampInterval(config.Interval),
		window:    window,
		refresh:   make(chan struct{}, 1),
	}
}

// AddObserver registers a snapshot observer. Not safe to call after Run has
// started.
func (p *Poller) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Snapshot returns the retained snapshot, nil before the first successful
// poll. The returned snapshot is immutable; callers must not modify it.
func (p *Poller) Snapshot() *snapshot.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prev
}

// Health returns the current availability state.
func (p *Poller) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Interval returns the effective poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interval
}

// SetInterval applies a new poll interval (clamped). Takes effect at the
// next scheduling decision; a sleeping loop picks it up within one old
// interval.
func (p *Poller) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = ClampInterval(d)
}

// SetDueSoonWindow applies a new due-soon lookahead.
func (p *Poller) SetDueSoonWindow(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d > 0 {
		p.window = d
	}
}

// RequestRefresh asks for an out-of-band poll. Coalesced: a request made
// while one is already pending is dropped.
func (p *Poller) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Printf("Starting poll loop (interval %s)", p.Interval())

	if _, err := p.PollOnce(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Println("Poll loop stopped")
			return ctx.Err()

		case <-timer.C:
			p.pollAndLog(ctx)
			timer.Reset(p.nextDelay())

		case <-p.refresh:
			p.logger.Println("Out-of-band refresh requested")
			p.pollAndLog(ctx)
			// The timer is not reset here: a refresh serves command
			// latency and must not postpone the regular schedule.
		}
	}
}

func (p *Poller) pollAndLog(ctx context.Context) {
	if _, err := p.PollOnce(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
		health := p.Health()
		if health.ConsecutiveFailures == p.threshold {
			p.logger.Printf("ERROR: %d consecutive poll failures, last: %v", health.ConsecutiveFailures, err)
		} else {
			p.logger.Printf("Poll failed: %v", err)
		}
	}
}

// nextDelay returns the wait before the next scheduled poll: the configured
// interval, extended by any pending rate-limit backoff. The interval floor
// is never shrunk.
func (p *Poller) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.interval
	if p.backoff > delay {
		delay = p.backoff
	}
	p.backoff = 0
	return delay
}

// PollOnce runs a single fetch-diff-retain cycle. Returns the emitted
// events, or ErrPollInFlight when a poll is already running. On any fetch
// failure the retained snapshot is left untouched.
func (p *Poller) PollOnce(ctx context.Context) ([]snapshot.Event, error) {
	p.pollMu.Lock()
	if p.inPoll {
		p.pollMu.Unlock()
		return nil, ErrPollInFlight
	}
	p.inPoll = true
	p.pollMu.Unlock()

	defer func() {
		p.pollMu.Lock()
		p.inPoll = false
		p.pollMu.Unlock()
	}()

	started := p.now()

	curr, err := p.fetch(ctx)
	if err != nil {
		p.recordFailure(started, err)
		return nil, err
	}

	p.mu.Lock()
	prev := p.prev
	window := p.window
	p.mu.Unlock()

	now := p.now()
	events := snapshot.Diff(prev, curr, now, window)

	// The retained snapshot is replaced in one assignment under the lock;
	// readers never observe a half-updated state.
	p.mu.Lock()
	p.prev = curr
	p.health = Health{
		Available:   true,
		LastAttempt: &started,
		LastSuccess: &now,
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.sink.Publish(ev)
	}
	for _, o := range p.observers {
		o.OnSnapshot(curr)
	}

	p.logger.Printf("Poll complete: %d projects, %d tasks, %d events in %s",
		len(curr.Projects), len(curr.Tasks()), len(events), time.Since(started).Round(time.Millisecond))

	return events, nil
}

func (p *Poller) recordFailure(attempt time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Available = false
	p.health.AuthFailed = ticktick.IsAuth(err)
	p.health.ConsecutiveFailures++
	p.health.LastError = err.Error()
	p.health.LastAttempt = &attempt

	if delay, ok := ticktick.IsRateLimit(err); ok {
		backoff := delay
		if backoff <= 0 {
			backoff = 2 * p.interval
		} else {
			backoff += p.interval
		}
		p.backoff = backoff
	}
}
