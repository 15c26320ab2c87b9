package contracts

import (
	"context"

	"github.com/XavierBriggs/Pythia/pkg/models"
)

// BetRepository is the read side of the bet ledger used to decide which events need fresh odds
type BetRepository interface {
	// FindPendingBetsBySport returns every pending bet placed on the given sport
	FindPendingBetsBySport(ctx context.Context, sportKey string) ([]models.PendingBet, error)
}
