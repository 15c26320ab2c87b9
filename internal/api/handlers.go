// Package api exposes the sports query service and the odds updater over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/XavierBriggs/Pythia/internal/sports"
	"github.com/XavierBriggs/Pythia/internal/updater"
	"github.com/XavierBriggs/Pythia/pkg/models"
)

// SportsQuerier is the read side served by the API
type SportsQuerier interface {
	GetAllSports(ctx context.Context, region string, opts ...sports.QueryOption) ([]models.Sport, error)
	GetEventsWithOdds(ctx context.Context, sportKey, region, markets string) ([]models.NormalizedEvent, error)
	GetEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.NormalizedEvent, error)
	GetBestOddsForEvent(ctx context.Context, sportKey, eventID, region, markets string) (*models.BestOddsResult, error)
	GetUpcomingMatches(ctx context.Context, region string, opts ...sports.QueryOption) ([]models.UpcomingMatch, error)
	RateLimits() models.RateLimits
}

// RefreshController is the control side of the odds updater
type RefreshController interface {
	Trigger(ctx context.Context) <-chan updater.RunSummary
	IsRunning() bool
	Schedule() string
	NextRun() time.Time
	LastRun() (updater.RunSummary, bool)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	sports  SportsQuerier
	updater RefreshController // nil when the updater is disabled
	logger  zerolog.Logger
}

// NewHandler creates a new handler. refresh may be nil.
func NewHandler(querier SportsQuerier, refresh RefreshController, logger zerolog.Logger) *Handler {
	return &Handler{
		sports:  querier,
		updater: refresh,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// HealthCheck returns service status and the vendor quota
// GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	limits := h.sports.RateLimits()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "pythia",
		"vendor": map[string]interface{}{
			"requestsRemaining": limits.RequestsRemaining,
			"requestsUsed":      limits.RequestsUsed,
		},
	})
}

// GetSports lists sports
// GET /api/v1/sports?region=
func (h *Handler) GetSports(w http.ResponseWriter, r *http.Request) {
	list, err := h.sports.GetAllSports(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sports": list,
		"count":  len(list),
	})
}

// GetEvents lists normalized events with odds for a sport
// GET /api/v1/sports/{sportKey}/events?region=&markets=
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	sportKey := chi.URLParam(r, "sportKey")
	q := r.URL.Query()

	events, err := h.sports.GetEventsWithOdds(r.Context(), sportKey, q.Get("region"), q.Get("markets"))
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sport":  sportKey,
		"events": events,
		"count":  len(events),
	})
}

// GetEvent returns one event
// GET /api/v1/sports/{sportKey}/events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	sportKey := chi.URLParam(r, "sportKey")
	eventID := chi.URLParam(r, "eventID")
	q := r.URL.Query()

	event, err := h.sports.GetEvent(r.Context(), sportKey, eventID, q.Get("region"), q.Get("markets"))
	if err != nil {
		h.respondQueryError(w, err)
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// GetBestOdds returns the best price per outcome for an event
// GET /api/v1/sports/{sportKey}/events/{eventID}/best-odds
func (h *Handler) GetBestOdds(w http.ResponseWriter, r *http.Request) {
	sportKey := chi.URLParam(r, "sportKey")
	eventID := chi.URLParam(r, "eventID")
	q := r.URL.Query()

	result, err := h.sports.GetBestOddsForEvent(r.Context(), sportKey, eventID, q.Get("region"), q.Get("markets"))
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetUpcomingMatches lists upcoming matches across sports
// GET /api/v1/matches/upcoming?region=&limit=
func (h *Handler) GetUpcomingMatches(w http.ResponseWriter, r *http.Request) {
	var opts []sports.QueryOption
	if limit := parseIntParam(r, "limit", 0); limit > 0 {
		if limit > 50 {
			limit = 50
		}
		opts = append(opts, sports.WithMaxResults(limit))
	}

	matches, err := h.sports.GetUpcomingMatches(r.Context(), r.URL.Query().Get("region"), opts...)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

// TriggerRefresh starts an odds update cycle.
// POST /api/v1/admin/odds/refresh[?wait=true]
// Without wait the cycle runs in the background and 202 is returned at once.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		respondError(w, http.StatusServiceUnavailable, "odds updater is disabled")
		return
	}

	done := h.updater.Trigger(r.Context())

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	select {
	case summary := <-done:
		respondJSON(w, http.StatusOK, newRunSummaryResponse(summary))
	case <-r.Context().Done():
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	}
}

// GetUpdaterStatus reports the updater state
// GET /api/v1/admin/odds/updater
func (h *Handler) GetUpdaterStatus(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	resp := map[string]interface{}{
		"enabled":  true,
		"running":  h.updater.IsRunning(),
		"schedule": h.updater.Schedule(),
	}
	if next := h.updater.NextRun(); !next.IsZero() {
		resp["nextRun"] = next.UTC()
	}
	if last, ok := h.updater.LastRun(); ok {
		resp["lastRun"] = newRunSummaryResponse(last)
	}

	respondJSON(w, http.StatusOK, resp)
}

type runSummaryResponse struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	DurationMs  int64     `json:"durationMs"`
	Skipped     bool      `json:"skipped"`
	Sports      int       `json:"sports"`
	Events      int       `json:"events"`
	Refreshed   int       `json:"refreshed"`
	SportErrors []string  `json:"sportErrors,omitempty"`
	EventErrors []string  `json:"eventErrors,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func newRunSummaryResponse(s updater.RunSummary) runSummaryResponse {
	resp := runSummaryResponse{
		ID:         s.ID,
		StartedAt:  s.StartedAt.UTC(),
		FinishedAt: s.FinishedAt.UTC(),
		DurationMs: s.Duration().Milliseconds(),
		Skipped:    s.Skipped,
		Sports:     s.Sports,
		Events:     s.Events,
		Refreshed:  s.Refreshed,
	}
	for _, e := range s.SportErrors {
		resp.SportErrors = append(resp.SportErrors, e.Error())
	}
	for _, e := range s.EventErrors {
		resp.EventErrors = append(resp.EventErrors, e.Error())
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sports.ErrEventNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sports.ErrUpstreamUnavailable):
		h.logger.Warn().Err(err).Msg("upstream unavailable")
		respondError(w, http.StatusBadGateway, "odds provider unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn().Err(err).Msg("query timed out")
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error().Err(err).Msg("query failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
