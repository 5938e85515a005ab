package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// Store implements statestore.Store on PostgreSQL. Each method is a single
// statement or a single transaction; the database is the unit of atomicity.
type Store struct {
	pool *pgxpool.Pool
}

var _ statestore.Store = (*Store)(nil)

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
