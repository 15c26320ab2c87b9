// Package sports answers sports, events and odds queries, caching every vendor
// response so that the vendor quota is spent at most once per TTL window.
package sports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/XavierBriggs/Pythia/internal/aggregator"
	"github.com/XavierBriggs/Pythia/internal/cache"
	"github.com/XavierBriggs/Pythia/internal/normalizer"
	"github.com/XavierBriggs/Pythia/pkg/contracts"
	"github.com/XavierBriggs/Pythia/pkg/models"
)

var (
	// ErrUpstreamUnavailable means the vendor call failed and nothing usable was cached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrEventNotFound means the vendor answered but did not list the requested event
	ErrEventNotFound = errors.New("event not found")

	errBackingOff = errors.New("vendor failed recently, backing off")
)

// Config holds query defaults and cache windows
type Config struct {
	DefaultRegion      string
	DefaultMarkets     string
	SportsTTL          time.Duration
	OddsTTL            time.Duration
	UpcomingTTL        time.Duration
	StaleTTL           time.Duration // 0 disables the stale fallback
	FetchTimeout       time.Duration // bound on one shared vendor fetch
	FailureBackoff     time.Duration // 0 disables failure backoff
	MaxUpcomingSports  int
	MaxResultsPerSport int
	FetchConcurrency   int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRegion:      "us",
		DefaultMarkets:     aggregator.HeadToHead,
		SportsTTL:          time.Hour,
		OddsTTL:            5 * time.Minute,
		UpcomingTTL:        10 * time.Minute,
		StaleTTL:           24 * time.Hour,
		FetchTimeout:       30 * time.Second,
		FailureBackoff:     30 * time.Second,
		MaxUpcomingSports:  5,
		MaxResultsPerSport: 10,
		FetchConcurrency:   3,
	}
}

// Service is the sports query service
type Service struct {
	vendor contracts.VendorAdapter
	cache  contracts.Cache
	stale  contracts.Cache
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	flights singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for the upcoming-match filter.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithStaleCache stores last-good payloads in c instead of a private
// in-process cache. Stale copies never share an eviction budget with fresh
// entries unless c is the primary cache.
func WithStaleCache(c contracts.Cache) Option {
	return func(s *Service) {
		s.stale = c
	}
}

// NewService creates a sports query service
func NewService(vendor contracts.VendorAdapter, store contracts.Cache, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	defaults := DefaultConfig()
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = defaults.DefaultRegion
	}
	if cfg.DefaultMarkets == "" {
		cfg.DefaultMarkets = defaults.DefaultMarkets
	}
	if cfg.SportsTTL <= 0 {
		cfg.SportsTTL = defaults.SportsTTL
	}
	if cfg.OddsTTL <= 0 {
		cfg.OddsTTL = defaults.OddsTTL
	}
	if cfg.UpcomingTTL <= 0 {
		cfg.UpcomingTTL = defaults.UpcomingTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.FailureBackoff < 0 {
		cfg.FailureBackoff = 0
	}
	if cfg.MaxUpcomingSports <= 0 {
		cfg.MaxUpcomingSports = defaults.MaxUpcomingSports
	}
	if cfg.MaxResultsPerSport <= 0 {
		cfg.MaxResultsPerSport = defaults.MaxResultsPerSport
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}

	s := &Service{
		vendor: vendor,
		cache:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "sports").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stale == nil {
		s.stale = cache.NewMemory()
	}
	return s
}

// QueryOption overrides a per-call default.
type QueryOption func(*query)

type query struct {
	ttl        time.Duration
	maxResults int
}

// WithTTL overrides the cache window of the call. A zero or negative ttl
// skips the cache: the call always reaches the vendor and its result is
// not stored for later calls.
func WithTTL(ttl time.Duration) QueryOption {
	return func(q *query) {
		q.ttl = ttl
	}
}

// WithMaxResults overrides the per-sport cap of GetUpcomingMatches.
func WithMaxResults(n int) QueryOption {
	return func(q *query) {
		q.maxResults = n
	}
}

func buildQuery(ttl time.Duration, maxResults int, opts []QueryOption) query {
	q := query{ttl: ttl, maxResults: maxResults}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// GetAllSports returns the vendor's sports list for region (cache key sports:{region})
func (s *Service) GetAllSports(ctx context.Context, region string, opts ...QueryOption) ([]models.Sport, error) {
	region = s.region(region)
	q := buildQuery(s.cfg.SportsTTL, 0, opts)

	return load(ctx, s, sportsKey(region), q.ttl, func(ctx context.Context) ([]models.Sport, error) {
		return s.vendor.FetchSports(ctx, region)
	})
}

// GetOddsForSport returns raw vendor events for a sport (cache key odds:{sport}:{region}:{markets})
func (s *Service) GetOddsForSport(ctx context.Context, sportKey, region, markets string, opts ...QueryOption) ([]models.RawEvent, error) {
	region, markets = s.region(region), s.markets(markets)
	q := buildQuery(s.cfg.OddsTTL, 0, opts)

	return load(ctx, s, oddsKey(sportKey, region, markets), q.ttl, func(ctx context.Context) ([]models.RawEvent, error) {
		return s.vendor.FetchOdds(ctx, sportKey, region, markets)
	})
}

// GetEventsWithOdds returns normalized events for a sport in vendor order.
// It is not cached on its own; freshness follows the odds entry.
func (s *Service) GetEventsWithOdds(ctx context.Context, sportKey, region, markets string) ([]models.NormalizedEvent, error) {
	raw, err := s.GetOddsForSport(ctx, sportKey, region, markets)
	if err != nil {
		return nil, err
	}
	return normalizer.NormalizeAll(raw), nil
}

// GetEvent finds one event by id. A nil event with a nil error means the
// sport's odds were fetched but do not contain eventID.
func (s *Service) GetEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.NormalizedEvent, error) {
	events, err := s.GetEventsWithOdds(ctx, sportKey, region, markets)
	if err != nil {
		return nil, err
	}

	for i := range events {
		if events[i].ID == eventID {
			return &events[i], nil
		}
	}
	return nil, nil
}

// GetBestOddsForEvent returns the best price per outcome for an event
func (s *Service) GetBestOddsForEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.BestOddsResult, error) {
	event, err := s.GetEvent(ctx, sportKey, eventID, region, markets)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrEventNotFound, sportKey, eventID)
	}

	result := aggregator.BestOdds(*event)
	return &result, nil
}

// GetUpcomingMatches lists future events across the first active, non-outright
// sports, capped per sport and sorted by start time.
// Sports whose odds cannot be fetched are skipped.
func (s *Service) GetUpcomingMatches(ctx context.Context, region string, opts ...QueryOption) ([]models.UpcomingMatch, error) {
	region = s.region(region)
	q := buildQuery(s.cfg.UpcomingTTL, s.cfg.MaxResultsPerSport, opts)
	if q.maxResults <= 0 {
		q.maxResults = s.cfg.MaxResultsPerSport
	}

	return load(ctx, s, upcomingKey(region, q.maxResults), q.ttl, func(ctx context.Context) ([]models.UpcomingMatch, error) {
		return s.collectUpcoming(ctx, region, q.maxResults)
	})
}

func (s *Service) collectUpcoming(ctx context.Context, region string, maxResults int) ([]models.UpcomingMatch, error) {
	sports, err := s.GetAllSports(ctx, region)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Sport, 0, s.cfg.MaxUpcomingSports)
	for _, sport := range sports {
		if !sport.Active || sport.HasOutrights {
			continue
		}
		candidates = append(candidates, sport)
		if len(candidates) == s.cfg.MaxUpcomingSports {
			break
		}
	}

	now := s.now()
	perSport := make([][]models.UpcomingMatch, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, sport := range candidates {
		i, sport := i, sport
		g.Go(func() error {
			events, err := s.GetEventsWithOdds(ctx, sport.Key, region, s.cfg.DefaultMarkets)
			if err != nil {
				s.logger.Warn().Err(err).Str("sport", sport.Key).Msg("skipping sport in upcoming matches")
				return nil
			}

			matches := make([]models.UpcomingMatch, 0, maxResults)
			for _, evt := range events {
				if !evt.CommenceTime.After(now) {
					continue
				}
				matches = append(matches, models.UpcomingMatch{
					ID:        evt.ID,
					SportKey:  sport.Key,
					SportName: sport.Title,
					HomeTeam:  evt.HomeTeam,
					AwayTeam:  evt.AwayTeam,
					StartTime: evt.CommenceTime,
					Odds:      aggregator.MainOdds(evt.HomeTeam, evt.AwayTeam, evt.Bookmakers),
				})
				if len(matches) == maxResults {
					break
				}
			}
			perSport[i] = matches
			return nil
		})
	}
	_ = g.Wait()

	upcoming := make([]models.UpcomingMatch, 0)
	for _, matches := range perSport {
		upcoming = append(upcoming, matches...)
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].StartTime.Before(upcoming[j].StartTime)
	})

	return upcoming, nil
}

// InvalidateSport drops the cached odds of a sport so the next query refetches
func (s *Service) InvalidateSport(ctx context.Context, sportKey, region, markets string) {
	s.cache.Invalidate(ctx, oddsKey(sportKey, s.region(region), s.markets(markets)))
}

// RateLimits reports the vendor quota as last seen
func (s *Service) RateLimits() models.RateLimits {
	return s.vendor.GetRateLimits()
}

// DefaultRegion returns the region used when a caller passes none
func (s *Service) DefaultRegion() string {
	return s.cfg.DefaultRegion
}

// DefaultMarkets returns the markets used when a caller passes none
func (s *Service) DefaultMarkets() string {
	return s.cfg.DefaultMarkets
}

func (s *Service) region(region string) string {
	if region == "" {
		return s.cfg.DefaultRegion
	}
	return region
}

func (s *Service) markets(markets string) string {
	if markets == "" {
		return s.cfg.DefaultMarkets
	}
	return markets
}

// load is the cache-then-vendor path shared by every cached query.
// Concurrent misses on one key share a single fetch that runs detached from
// any one caller; each caller waits on its own context. Successful payloads
// are also kept in the stale cache and served if a later fetch fails.
func load[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if ttl > 0 {
		if v, ok := s.cache.Get(ctx, key); ok {
			var out T
			if err := json.Unmarshal(v, &out); err == nil {
				s.logger.Debug().Str("key", key).Msg("cache hit")
				return out, nil
			}
			s.logger.Warn().Str("key", key).Msg("undecodable cache entry, refetching")
			s.cache.Invalidate(ctx, key)
		}
	}

	if _, ok := s.cache.Get(ctx, failedKey(key)); ok {
		return zero, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, key, errBackingOff)
	}

	s.logger.Debug().Str("key", key).Msg("cache miss")

	ch := s.flights.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()

		v, err := fetch(fetchCtx)
		if err != nil {
			return s.fallback(fetchCtx, key, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if s.cfg.StaleTTL > 0 {
			s.stale.Set(fetchCtx, staleKey(key), data, s.cfg.StaleTTL)
		}
		if ttl > 0 {
			s.cache.Set(fetchCtx, key, data, ttl)
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	if res.Err != nil {
		// A nested load (upcoming -> sports) has already wrapped its error.
		if errors.Is(res.Err, ErrUpstreamUnavailable) {
			return zero, res.Err
		}
		return zero, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, key, res.Err)
	}

	if res.Shared {
		s.logger.Debug().Str("key", key).Msg("joined in-flight fetch")
	}

	var out T
	if err := json.Unmarshal(res.Val.([]byte), &out); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// fallback answers a failed fetch with the last good payload for key, put
// back under key for FailureBackoff. Without one the failure itself is
// remembered for FailureBackoff. Either way the vendor is not retried for
// that key until the backoff lapses.
func (s *Service) fallback(ctx context.Context, key string, fetchErr error) ([]byte, error) {
	if s.cfg.StaleTTL > 0 {
		if data, ok := s.stale.Get(ctx, staleKey(key)); ok && json.Valid(data) {
			s.logger.Warn().Err(fetchErr).Str("key", key).Dur("backoff", s.cfg.FailureBackoff).Msg("vendor failed, serving stale data")
			if s.cfg.FailureBackoff > 0 {
				s.cache.Set(ctx, key, data, s.cfg.FailureBackoff)
			}
			return data, nil
		}
	}

	if s.cfg.FailureBackoff > 0 && !errors.Is(fetchErr, ErrUpstreamUnavailable) {
		s.cache.Set(ctx, failedKey(key), []byte(fetchErr.Error()), s.cfg.FailureBackoff)
	}
	return nil, fetchErr
}

func sportsKey(region string) string {
	return "sports:" + region
}

func oddsKey(sportKey, region, markets string) string {
	return fmt.Sprintf("odds:%s:%s:%s", sportKey, region, markets)
}

func upcomingKey(region string, maxResults int) string {
	return fmt.Sprintf("upcoming:%s:%d", region, maxResults)
}

func staleKey(key string) string {
	return "stale:" + key
}

func failedKey(key string) string {
	return "failed:" + key
}
