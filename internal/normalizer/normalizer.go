// Package normalizer maps vendor event payloads onto the canonical event model.
package normalizer

import (
	"time"

	"github.com/XavierBriggs/Pythia/pkg/models"
)

// Normalize converts a raw vendor event into a NormalizedEvent.
// Bookmaker, market and outcome order is preserved and outcome names pass
// through untouched. An unparsable commence_time yields the zero time.
func Normalize(raw models.RawEvent) models.NormalizedEvent {
	commenceTime, err := time.Parse(time.RFC3339, raw.CommenceTime)
	if err != nil {
		commenceTime = time.Time{}
	}

	bookmakers := make([]models.Bookmaker, 0, len(raw.Bookmakers))
	for _, rb := range raw.Bookmakers {
		markets := make([]models.Market, 0, len(rb.Markets))
		for _, rm := range rb.Markets {
			outcomes := make([]models.Outcome, 0, len(rm.Outcomes))
			for _, ro := range rm.Outcomes {
				outcomes = append(outcomes, models.Outcome{
					Name:  ro.Name,
					Price: ro.Price,
				})
			}
			markets = append(markets, models.Market{
				Key:      rm.Key,
				Outcomes: outcomes,
			})
		}
		bookmakers = append(bookmakers, models.Bookmaker{
			Key:     rb.Key,
			Title:   rb.Title,
			Markets: markets,
		})
	}

	return models.NormalizedEvent{
		ID:           raw.ID,
		SportKey:     raw.SportKey,
		SportTitle:   raw.SportTitle,
		HomeTeam:     raw.HomeTeam,
		AwayTeam:     raw.AwayTeam,
		CommenceTime: commenceTime.UTC(),
		Bookmakers:   bookmakers,
	}
}

// NormalizeAll normalizes a batch, keeping input order
func NormalizeAll(raw []models.RawEvent) []models.NormalizedEvent {
	events := make([]models.NormalizedEvent, 0, len(raw))
	for _, r := range raw {
		events = append(events, Normalize(r))
	}
	return events
}
