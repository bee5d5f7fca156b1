// Package scheduler drives outbound campaigns: it promotes scheduled
// campaigns when their window opens, claims pending contacts under each
// user's concurrency budget, initiates calls through the voice engine and a
// telephony provider, reduces terminal webhooks into durable state, and
// reaps calls that never produced one.
//
// Durable campaign state is authoritative. The in-memory budget and active
// call registry are accelerators only and are rebuilt from the store after a
// restart.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/engine"
	"voicedial-platform/internal/telephony"
	"voicedial-platform/internal/usersettings"
	"voicedial-platform/pkg/logger"
)

// Config carries the scheduler's tunables. Zero values are filled with the
// same defaults the config package uses.
type Config struct {
	TickInterval       time.Duration
	StaleCallThreshold time.Duration
	MaxCallDuration    time.Duration

	// RetryBusy requeues busy contacts instead of marking them failed.
	RetryBusy bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 10 * time.Minute
	}
	if c.StaleCallThreshold <= 0 {
		c.StaleCallThreshold = 15 * time.Minute
	}
	return c
}

// activeCall is the in-memory registry entry for one in-flight call, keyed
// by engine call id (or a synthetic pending key before the engine assigns
// one).
type activeCall struct {
	CampaignID string
	ContactID  string
	UserID     string
	StartedAt  time.Time
}

// userBudget tracks one user's concurrent-call budget. activeCalls is
// rebuilt lazily from in-progress contacts in the store the first time the
// user is seen after a restart.
type userBudget struct {
	activeCalls   int
	maxConcurrent int

	// processing serializes per-user passes: at most one ProcessUserCalls
	// runs for a user at a time.
	processing bool

	// activeCampaigns is the set this user's processing pass iterates; rr is
	// the round-robin cursor into its sorted order.
	activeCampaigns map[string]struct{}
	rr              int
}

type Scheduler struct {
	campaigns campaign.Store
	history   callhistory.Store
	settings  usersettings.Store
	engine    engine.Client
	dialer    telephony.Client

	log   *slog.Logger
	cfg   Config
	clock func() time.Time

	mu      sync.Mutex
	budgets map[string]*userBudget
	active  map[string]activeCall

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(campaigns campaign.Store, history callhistory.Store, settings usersettings.Store,
	eng engine.Client, dialer telephony.Client, log *slog.Logger, cfg Config) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		campaigns: campaigns,
		history:   history,
		settings:  settings,
		engine:    eng,
		dialer:    dialer,
		log:       logger.Component(log, "scheduler"),
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		budgets:   map[string]*userBudget{},
		active:    map[string]activeCall{},
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetClock replaces the time source (tests).
func (s *Scheduler) SetClock(fn func() time.Time) { s.clock = fn }

func (s *Scheduler) now() time.Time { return s.clock() }

// Start launches the tick loop. Safe to call once; Stop waits for the loop
// to drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// scheduleWake nudges the loop to run a processing pass ahead of the next
// tick, used after a call slot frees up. Coalesces when a wake is already
// pending.
func (s *Scheduler) scheduleWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
