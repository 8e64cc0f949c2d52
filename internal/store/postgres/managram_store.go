package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// ManagramStore implements domain.ManagramStore using PostgreSQL.
type ManagramStore struct {
	pool *pgxpool.Pool
}

// NewManagramStore creates a new ManagramStore backed by the given
// connection pool.
func NewManagramStore(pool *pgxpool.Pool) *ManagramStore {
	return &ManagramStore{pool: pool}
}

const managramCols = `txn_id, group_id, from_id, to_id, created_time, token, amount, message, processed`

// Insert stores a newly fetched managram. Re-fetching a known transaction is
// not an error; the original row wins.
func (s *ManagramStore) Insert(ctx context.Context, m *domain.Managram) error {
	const query = `
		INSERT INTO managrams (` + managramCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (txn_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		m.TxnID, m.GroupID, m.FromID, m.ToID, m.CreatedAt,
		m.Token, m.Amount, m.Message, m.Processed)
	if err != nil {
		return fmt.Errorf("postgres: insert managram %s: %w", m.TxnID, err)
	}
	return nil
}

// LastTimestamp returns the creation time of the newest stored managram, or
// the zero time when none exist.
func (s *ManagramStore) LastTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_time FROM managrams ORDER BY created_time DESC LIMIT 1`,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last managram timestamp: %w", err)
	}
	return ts, nil
}

// ListUnprocessed returns stored managrams not yet acted on, oldest first.
func (s *ManagramStore) ListUnprocessed(ctx context.Context) ([]domain.Managram, error) {
	return s.listManagrams(ctx,
		`SELECT `+managramCols+` FROM managrams WHERE NOT processed ORDER BY created_time`)
}

// ListProcessedBefore returns processed managrams created strictly before
// the cutoff, oldest first.
func (s *ManagramStore) ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]domain.Managram, error) {
	return s.listManagrams(ctx,
		`SELECT `+managramCols+` FROM managrams WHERE processed AND created_time < $1 ORDER BY created_time`,
		cutoff)
}

// MarkProcessed flags a managram as handled.
func (s *ManagramStore) MarkProcessed(ctx context.Context, txnID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE managrams SET processed = TRUE WHERE txn_id = $1`, txnID)
	if err != nil {
		return fmt.Errorf("postgres: mark managram %s processed: %w", txnID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark managram %s processed: %w", txnID, domain.ErrNotFound)
	}
	return nil
}

func (s *ManagramStore) listManagrams(ctx context.Context, query string, args ...any) ([]domain.Managram, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list managrams: %w", err)
	}
	defer rows.Close()

	var managrams []domain.Managram
	for rows.Next() {
		var m domain.Managram
		if err := rows.Scan(
			&m.TxnID, &m.GroupID, &m.FromID, &m.ToID, &m.CreatedAt,
			&m.Token, &m.Amount, &m.Message, &m.Processed,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan managram: %w", err)
		}
		managrams = append(managrams, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list managrams rows: %w", err)
	}
	return managrams, nil
}
