package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/XavierBriggs/Pythia/pkg/models"
)

// OutcomePrice pairs an outcome name with a decimal price string
type OutcomePrice struct {
	Name  string
	Price string
}

// NewRawEvent creates a vendor event starting at commence
func NewRawEvent(eventID, sportKey, homeTeam, awayTeam string, commence time.Time, bookmakers ...models.RawBookmaker) models.RawEvent {
	if bookmakers == nil {
		bookmakers = []models.RawBookmaker{}
	}
	return models.RawEvent{
		ID:           eventID,
		SportKey:     sportKey,
		SportTitle:   sportKey,
		CommenceTime: commence.UTC().Format(time.RFC3339),
		HomeTeam:     homeTeam,
		AwayTeam:     awayTeam,
		Bookmakers:   bookmakers,
	}
}

// NewRawBookmaker creates a bookmaker quoting a single market
func NewRawBookmaker(title, marketKey string, prices ...OutcomePrice) models.RawBookmaker {
	outcomes := make([]models.RawOutcome, 0, len(prices))
	for _, p := range prices {
		outcomes = append(outcomes, models.RawOutcome{
			Name:  p.Name,
			Price: decimal.RequireFromString(p.Price),
		})
	}
	return models.RawBookmaker{
		Key:   title,
		Title: title,
		Markets: []models.RawMarket{
			{Key: marketKey, Outcomes: outcomes},
		},
	}
}

// NewSport creates an active sport without outrights
func NewSport(key, title string) models.Sport {
	return models.Sport{Key: key, Title: title, Group: title, Active: true}
}

// MockVendorAdapter is a test adapter that returns predetermined sports and odds
// and counts calls. Safe for concurrent use.
type MockVendorAdapter struct {
	FetchSportsFunc func(ctx context.Context, region string) ([]models.Sport, error)
	FetchOddsFunc   func(ctx context.Context, sportKey, region, markets string) ([]models.RawEvent, error)

	mu          sync.Mutex
	sportsCalls int
	oddsCalls   map[string]int
}

func (m *MockVendorAdapter) FetchSports(ctx context.Context, region string) ([]models.Sport, error) {
	m.mu.Lock()
	m.sportsCalls++
	m.mu.Unlock()

	if m.FetchSportsFunc != nil {
		return m.FetchSportsFunc(ctx, region)
	}
	return []models.Sport{}, nil
}

func (m *MockVendorAdapter) FetchOdds(ctx context.Context, sportKey, region, markets string) ([]models.RawEvent, error) {
	m.mu.Lock()
	if m.oddsCalls == nil {
		m.oddsCalls = make(map[string]int)
	}
	m.oddsCalls[sportKey]++
	m.mu.Unlock()

	if m.FetchOddsFunc != nil {
		return m.FetchOddsFunc(ctx, sportKey, region, markets)
	}
	return []models.RawEvent{}, nil
}

func (m *MockVendorAdapter) GetRateLimits() models.RateLimits {
	return models.RateLimits{RequestsRemaining: 500}
}

// SportsCalls returns how many times FetchSports ran
func (m *MockVendorAdapter) SportsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sportsCalls
}

// OddsCalls returns how many times FetchOdds ran for sportKey
func (m *MockVendorAdapter) OddsCalls(sportKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oddsCalls[sportKey]
}

// TotalOddsCalls returns how many times FetchOdds ran across all sports
func (m *MockVendorAdapter) TotalOddsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.oddsCalls {
		total += n
	}
	return total
}

// MockBetRepository serves pending bets from a map keyed by sport
type MockBetRepository struct {
	Bets     map[string][]models.PendingBet
	Errs     map[string]error
	FindHook func(ctx context.Context, sportKey string)
}

func (m *MockBetRepository) FindPendingBetsBySport(ctx context.Context, sportKey string) ([]models.PendingBet, error) {
	if m.FindHook != nil {
		m.FindHook(ctx, sportKey)
	}
	if err := m.Errs[sportKey]; err != nil {
		return nil, err
	}
	return m.Bets[sportKey], nil
}

// PendingBets builds pending bets for sportKey, one per event id (duplicates kept)
func PendingBets(sportKey string, eventIDs ...string) []models.PendingBet {
	bets := make([]models.PendingBet, 0, len(eventIDs))
	for i, id := range eventIDs {
		bets = append(bets, models.PendingBet{
			ID:       fmt.Sprintf("bet-%d", i+1),
			EventID:  id,
			SportKey: sportKey,
			Status:   models.BetStatusPending,
		})
	}
	return bets
}
