package contracts

import (
	"context"

	"github.com/XavierBriggs/Pythia/pkg/models"
)

// VendorAdapter defines the interface for fetching sports and odds from an external vendor.
// Implementations do not retry; the refresh scheduler catches up on its next tick.
type VendorAdapter interface {
	// FetchSports retrieves the vendor's sports list for a region
	FetchSports(ctx context.Context, region string) ([]models.Sport, error)

	// FetchOdds retrieves events with bookmaker odds for one sport.
	// markets is a comma separated market list (e.g. "h2h,spreads").
	FetchOdds(ctx context.Context, sportKey, region, markets string) ([]models.RawEvent, error)

	// GetRateLimits returns current rate limit information
	GetRateLimits() models.RateLimits
}
