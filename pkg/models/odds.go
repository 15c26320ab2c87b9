package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prices travel as JSON numbers, the way the vendor sends them.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Sport is a sport as listed by the odds vendor
type Sport struct {
	Key          string `json:"key"`
	Group        string `json:"group,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Active       bool   `json:"active"`
	HasOutrights bool   `json:"has_outrights"`
}

// RawEvent is an event with odds exactly as the vendor returns it
type RawEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime string         `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []RawBookmaker `json:"bookmakers"`
}

// RawBookmaker is a vendor bookmaker entry
type RawBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate string      `json:"last_update,omitempty"`
	Markets    []RawMarket `json:"markets"`
}

// RawMarket is a vendor market entry
type RawMarket struct {
	Key        string       `json:"key"`
	LastUpdate string       `json:"last_update,omitempty"`
	Outcomes   []RawOutcome `json:"outcomes"`
}

// RawOutcome is a vendor outcome entry (decimal odds)
type RawOutcome struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Point *float64        `json:"point,omitempty"`
}

// NormalizedEvent is the canonical event shape served to callers
type NormalizedEvent struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sportKey"`
	SportTitle   string      `json:"sportTitle"`
	HomeTeam     string      `json:"homeTeam"`
	AwayTeam     string      `json:"awayTeam"`
	CommenceTime time.Time   `json:"commenceTime"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

// Bookmaker is a canonical bookmaker with its markets in vendor order
type Bookmaker struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Markets []Market `json:"markets"`
}

// Market is a canonical bet type (e.g. h2h) for an event
type Market struct {
	Key      string    `json:"key"`
	Outcomes []Outcome `json:"outcomes"`
}

// Outcome is a priced result of a market. Name is the identity used for aggregation.
type Outcome struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// BestPrice is the highest price seen for an outcome and who offered it
type BestPrice struct {
	Price     decimal.Decimal `json:"price"`
	Bookmaker string          `json:"bookmaker"`
}

// BestOddsResult holds the best price per outcome name for one event
type BestOddsResult struct {
	EventID      string               `json:"eventId"`
	HomeTeam     string               `json:"homeTeam"`
	AwayTeam     string               `json:"awayTeam"`
	CommenceTime time.Time            `json:"commenceTime"`
	BestOdds     map[string]BestPrice `json:"bestOdds"`
}

// MainOdds is the compact head-to-head price summary. Nil means not offered.
type MainOdds struct {
	Home *decimal.Decimal `json:"home"`
	Away *decimal.Decimal `json:"away"`
	Draw *decimal.Decimal `json:"draw"`
}

// UpcomingMatch is a summary row for the upcoming matches listing
type UpcomingMatch struct {
	ID        string    `json:"id"`
	SportKey  string    `json:"sportKey"`
	SportName string    `json:"sportName"`
	HomeTeam  string    `json:"homeTeam"`
	AwayTeam  string    `json:"awayTeam"`
	StartTime time.Time `json:"startTime"`
	Odds      MainOdds  `json:"odds"`
}

// PendingBet is the slice of a ledger bet the refresh scheduler needs
type PendingBet struct {
	ID       string
	EventID  string
	SportKey string
	Status   string
}

// BetStatusPending is the ledger status of an unsettled bet
const BetStatusPending = "PENDING"

// RateLimits contains rate limiting information
type RateLimits struct {
	RequestsRemaining int
	RequestsUsed      int
	UpdatedAt         time.Time
}
