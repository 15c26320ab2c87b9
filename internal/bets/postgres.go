// Package bets reads pending bets from the Alexandria ledger.
package bets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/XavierBriggs/Pythia/pkg/contracts"
	"github.com/XavierBriggs/Pythia/pkg/models"
)

var _ contracts.BetRepository = (*Postgres)(nil)

const pendingBySportQuery = `
	SELECT id, event_id, status
	FROM bets
	WHERE sport = $1
	  AND status = 'PENDING'
	ORDER BY created_at, id
`

// Postgres is a read-only bet repository
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	p := NewPostgres(db)
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// FindPendingBetsBySport returns every PENDING bet on sportKey, oldest first.
// Several bets may reference the same event.
func (p *Postgres) FindPendingBetsBySport(ctx context.Context, sportKey string) ([]models.PendingBet, error) {
	rows, err := p.db.QueryContext(ctx, pendingBySportQuery, sportKey)
	if err != nil {
		return nil, fmt.Errorf("query pending bets for %s: %w", sportKey, err)
	}
	defer rows.Close()

	bets := make([]models.PendingBet, 0)
	for rows.Next() {
		bet := models.PendingBet{SportKey: sportKey}
		if err := rows.Scan(&bet.ID, &bet.EventID, &bet.Status); err != nil {
			return nil, fmt.Errorf("scan pending bet: %w", err)
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending bets: %w", err)
	}

	return bets, nil
}

// Ping checks the connection
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the underlying pool
func (p *Postgres) Close() error {
	return p.db.Close()
}
