// Package updater periodically re-fetches odds for every event that still has
// pending bets.
package updater

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/XavierBriggs/Pythia/internal/sports"
	"github.com/XavierBriggs/Pythia/pkg/contracts"
	"github.com/XavierBriggs/Pythia/pkg/models"
)

// DefaultSchedule runs a cycle every 15 minutes
const DefaultSchedule = "*/15 * * * *"

// OddsSource is the slice of the sports query service the updater drives
type OddsSource interface {
	GetAllSports(ctx context.Context, region string, opts ...sports.QueryOption) ([]models.Sport, error)
	GetBestOddsForEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.BestOddsResult, error)
	InvalidateSport(ctx context.Context, sportKey, region, markets string)
}

// Config controls what a cycle queries
type Config struct {
	Region      string
	Markets     string
	CallTimeout time.Duration // bound on every vendor and repository call

	// ForceRefresh drops a sport's cached odds before its events are refreshed,
	// spending one vendor request per sport with pending bets.
	ForceRefresh bool
}

// SportError records a sport whose pending bets could not be processed
type SportError struct {
	SportKey string
	Err      error
}

func (e *SportError) Error() string {
	return fmt.Sprintf("sport %s: %v", e.SportKey, e.Err)
}

func (e *SportError) Unwrap() error { return e.Err }

// EventError records an event whose odds could not be refreshed
type EventError struct {
	SportKey string
	EventID  string
	Err      error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event %s/%s: %v", e.SportKey, e.EventID, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// RunSummary describes one update cycle
type RunSummary struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Skipped     bool          `json:"skipped"`
	Sports      int           `json:"sports"`
	Events      int           `json:"events"`
	Refreshed   int           `json:"refreshed"`
	SportErrors []*SportError `json:"-"`
	EventErrors []*EventError `json:"-"`
	Err         error         `json:"-"`
}

// Duration returns how long the cycle ran
func (r RunSummary) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Updater is the refresh scheduler. At most one cycle runs at a time; a tick or
// trigger arriving during a cycle is dropped.
type Updater struct {
	source OddsSource
	bets   contracts.BetRepository
	cfg    Config
	logger zerolog.Logger

	running atomic.Bool

	mu       sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	schedule string
	cancel   context.CancelFunc

	lastMu  sync.RWMutex
	lastRun *RunSummary
}

// New creates an updater
func New(source OddsSource, bets contracts.BetRepository, cfg Config, logger zerolog.Logger) *Updater {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	return &Updater{
		source: source,
		bets:   bets,
		cfg:    cfg,
		logger: logger.With().Str("component", "updater").Logger(),
	}
}

// Start schedules recurring cycles. An empty or unparsable schedule falls back
// to DefaultSchedule. A previously started schedule is cancelled first.
func (u *Updater) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	} else if _, err := cron.ParseStandard(schedule); err != nil {
		u.logger.Warn().Err(err).Str("schedule", schedule).Str("fallback", DefaultSchedule).Msg("invalid schedule, using default")
		schedule = DefaultSchedule
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// A cycle of the replaced schedule sees its context cancelled and drains on
	// its own; the running flag keeps it from overlapping the new schedule.
	u.detachLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithLogger(cronLogger{u.logger}))
	id, err := c.AddFunc(schedule, func() {
		u.UpdateAllOdds(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	c.Start()

	u.cron = c
	u.entryID = id
	u.schedule = schedule
	u.cancel = cancel

	u.logger.Info().
		Str("schedule", schedule).
		Time("next_run", c.Entry(id).Next).
		Msg("odds updater started")
	return nil
}

// Stop cancels the schedule and waits for a running cycle to return.
// Safe to call more than once. Status reads are not blocked while it waits.
func (u *Updater) Stop() {
	u.mu.Lock()
	stopped := u.detachLocked()
	u.mu.Unlock()

	if stopped == nil {
		return
	}
	<-stopped.Done()
	u.logger.Info().Msg("odds updater stopped")
}

// detachLocked cancels the active schedule and clears it. The returned
// context is done once the in-flight cycle, if any, has returned; nil when
// nothing was scheduled. Caller holds mu.
func (u *Updater) detachLocked() context.Context {
	if u.cron == nil {
		return nil
	}
	u.cancel()
	stopped := u.cron.Stop()

	u.cron = nil
	u.entryID = 0
	u.schedule = ""
	u.cancel = nil
	return stopped
}

// Schedule returns the active cron expression, empty when stopped
func (u *Updater) Schedule() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.schedule
}

// NextRun returns the next scheduled cycle, zero when stopped
func (u *Updater) NextRun() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cron == nil {
		return time.Time{}
	}
	return u.cron.Entry(u.entryID).Next
}

// IsRunning reports whether a cycle is in progress
func (u *Updater) IsRunning() bool {
	return u.running.Load()
}

// LastRun returns the summary of the most recent completed cycle
func (u *Updater) LastRun() (RunSummary, bool) {
	u.lastMu.RLock()
	defer u.lastMu.RUnlock()
	if u.lastRun == nil {
		return RunSummary{}, false
	}
	return *u.lastRun, true
}

// Trigger starts a cycle in the background and returns at once. The channel
// receives the summary when the cycle ends; it is buffered so it may be ignored.
func (u *Updater) Trigger(ctx context.Context) <-chan RunSummary {
	done := make(chan RunSummary, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		done <- u.UpdateAllOdds(ctx)
	}()
	return done
}

// UpdateAllOdds runs one cycle: list sports, collect the distinct events
// referenced by pending bets per sport, and refresh each event's best odds.
// Failures are isolated per sport and per event and recorded on the summary.
// Only a failure to list sports fails the whole cycle.
func (u *Updater) UpdateAllOdds(ctx context.Context) (summary RunSummary) {
	summary = RunSummary{ID: uuid.NewString(), StartedAt: time.Now()}
	log := u.logger.With().Str("run_id", summary.ID).Logger()

	if !u.running.CompareAndSwap(false, true) {
		summary.Skipped = true
		summary.FinishedAt = summary.StartedAt
		log.Info().Msg("odds update already running, skipping")
		return summary
	}
	defer u.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			summary.Err = fmt.Errorf("odds update panicked: %v", r)
		}
		summary.FinishedAt = time.Now()
		u.recordLastRun(summary)

		if summary.Err != nil {
			log.Error().Err(summary.Err).Dur("duration", summary.Duration()).Msg("odds update failed")
			return
		}
		log.Info().
			Int("sports", summary.Sports).
			Int("events", summary.Events).
			Int("refreshed", summary.Refreshed).
			Int("sport_errors", len(summary.SportErrors)).
			Int("event_errors", len(summary.EventErrors)).
			Dur("duration", summary.Duration()).
			Msg("odds update complete")
	}()

	var sportList []models.Sport
	err := u.call(ctx, func(ctx context.Context) error {
		var err error
		sportList, err = u.source.GetAllSports(ctx, u.cfg.Region)
		return err
	})
	if err != nil {
		summary.Err = fmt.Errorf("fetch sports: %w", err)
		return summary
	}
	summary.Sports = len(sportList)

	for _, sport := range sportList {
		if err := ctx.Err(); err != nil {
			summary.Err = fmt.Errorf("odds update interrupted: %w", err)
			return summary
		}
		u.refreshSport(ctx, log, sport.Key, &summary)
	}

	return summary
}

func (u *Updater) refreshSport(ctx context.Context, log zerolog.Logger, sportKey string, summary *RunSummary) {
	var bets []models.PendingBet
	err := u.call(ctx, func(ctx context.Context) error {
		var err error
		bets, err = u.bets.FindPendingBetsBySport(ctx, sportKey)
		return err
	})
	if err != nil {
		summary.SportErrors = append(summary.SportErrors, &SportError{SportKey: sportKey, Err: err})
		log.Warn().Err(err).Str("sport", sportKey).Msg("failed to load pending bets")
		return
	}

	eventIDs := distinctEventIDs(bets)
	if len(eventIDs) == 0 {
		return
	}

	if u.cfg.ForceRefresh {
		u.source.InvalidateSport(ctx, sportKey, u.cfg.Region, u.cfg.Markets)
	}

	for _, eventID := range eventIDs {
		summary.Events++

		var result *models.BestOddsResult
		err := u.call(ctx, func(ctx context.Context) error {
			var err error
			result, err = u.source.GetBestOddsForEvent(ctx, sportKey, eventID, u.cfg.Region, u.cfg.Markets)
			return err
		})
		if err != nil {
			summary.EventErrors = append(summary.EventErrors, &EventError{SportKey: sportKey, EventID: eventID, Err: err})
			log.Warn().Err(err).Str("sport", sportKey).Str("event_id", eventID).Msg("failed to refresh event odds")
			continue
		}

		summary.Refreshed++
		log.Debug().
			Str("sport", sportKey).
			Str("event_id", eventID).
			Int("outcomes", len(result.BestOdds)).
			Msg("event odds refreshed")
	}
}

// call runs fn under the per-call timeout and turns a panic into an error
func (u *Updater) call(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx)
}

func (u *Updater) recordLastRun(summary RunSummary) {
	u.lastMu.Lock()
	u.lastRun = &summary
	u.lastMu.Unlock()
}

// distinctEventIDs keeps the first occurrence of each event id, in bet order
func distinctEventIDs(bets []models.PendingBet) []string {
	seen := make(map[string]struct{}, len(bets))
	ids := make([]string, 0, len(bets))
	for _, bet := range bets {
		if bet.EventID == "" {
			continue
		}
		if _, ok := seen[bet.EventID]; ok {
			continue
		}
		seen[bet.EventID] = struct{}{}
		ids = append(ids, bet.EventID)
	}
	return ids
}

// cronLogger routes robfig/cron's logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
