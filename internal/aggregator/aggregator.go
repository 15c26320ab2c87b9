// Package aggregator computes best available prices across bookmakers.
package aggregator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/XavierBriggs/Pythia/pkg/models"
)

// HeadToHead is the vendor key of the moneyline market
const HeadToHead = "h2h"

// BestOdds folds every bookmaker/market/outcome of a resolved event into the
// highest decimal price per outcome name. Ties keep the first bookmaker seen.
// The event is not modified.
func BestOdds(event models.NormalizedEvent) models.BestOddsResult {
	best := make(map[string]models.BestPrice)

	for _, bookmaker := range event.Bookmakers {
		for _, market := range bookmaker.Markets {
			for _, outcome := range market.Outcomes {
				current, seen := best[outcome.Name]
				if seen && !outcome.Price.GreaterThan(current.Price) {
					continue
				}
				best[outcome.Name] = models.BestPrice{
					Price:     outcome.Price,
					Bookmaker: bookmaker.Title,
				}
			}
		}
	}

	return models.BestOddsResult{
		EventID:      event.ID,
		HomeTeam:     event.HomeTeam,
		AwayTeam:     event.AwayTeam,
		CommenceTime: event.CommenceTime,
		BestOdds:     best,
	}
}

// FindMarket returns the first market with the given key offered by a bookmaker
func FindMarket(bookmaker models.Bookmaker, key string) (models.Market, bool) {
	for _, m := range bookmaker.Markets {
		if m.Key == key {
			return m, true
		}
	}
	return models.Market{}, false
}

// MainOdds extracts home/away/draw prices from the first bookmaker that quotes a
// head-to-head market. Outcomes are matched by team name; for a two-way market
// with unrecognised names the first and second outcomes are taken as home and away.
func MainOdds(homeTeam, awayTeam string, bookmakers []models.Bookmaker) models.MainOdds {
	var odds models.MainOdds

	for _, bookmaker := range bookmakers {
		market, ok := FindMarket(bookmaker, HeadToHead)
		if !ok || len(market.Outcomes) == 0 {
			continue
		}

		outcomes := market.Outcomes
		for _, o := range outcomes {
			switch {
			case o.Name == homeTeam && odds.Home == nil:
				odds.Home = pricePtr(o.Price)
			case o.Name == awayTeam && odds.Away == nil:
				odds.Away = pricePtr(o.Price)
			case strings.EqualFold(o.Name, "draw") && odds.Draw == nil:
				odds.Draw = pricePtr(o.Price)
			}
		}

		if len(outcomes) == 2 {
			if odds.Home == nil && outcomes[0].Name != awayTeam {
				odds.Home = pricePtr(outcomes[0].Price)
			}
			if odds.Away == nil && outcomes[1].Name != homeTeam {
				odds.Away = pricePtr(outcomes[1].Price)
			}
		}
		return odds
	}

	return odds
}

func pricePtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
