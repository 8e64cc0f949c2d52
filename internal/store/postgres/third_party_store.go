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

// ThirdPartyMirrorStore implements domain.ThirdPartyMirrorStore using
// PostgreSQL.
type ThirdPartyMirrorStore struct {
	pool *pgxpool.Pool
}

// NewThirdPartyMirrorStore creates a new ThirdPartyMirrorStore backed by the
// given connection pool.
func NewThirdPartyMirrorStore(pool *pgxpool.Pool) *ThirdPartyMirrorStore {
	return &ThirdPartyMirrorStore{pool: pool}
}

// Upsert records a third-party mirror. Re-observing a known contract id
// keeps the earliest seen_at.
func (s *ThirdPartyMirrorStore) Upsert(ctx context.Context, m *domain.ThirdPartyMirror) error {
	seenAt := m.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO third_party_mirrors (source, source_id, contract_id, market_url, seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contract_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		string(m.Source), m.SourceID, m.ContractID, m.MarketURL, seenAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert third-party mirror %s: %w", m.ContractID, err)
	}
	return nil
}

// GetBySource retrieves a third-party mirror of a source question, if any.
func (s *ThirdPartyMirrorStore) GetBySource(ctx context.Context, source domain.Source, sourceID string) (*domain.ThirdPartyMirror, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, source_id, contract_id, market_url, seen_at
		 FROM third_party_mirrors WHERE source = $1 AND source_id = $2`,
		string(source), sourceID)

	m, err := scanThirdParty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get third-party mirror %s/%s: %w", source, sourceID, err)
	}
	return &m, nil
}

// ListAll returns every tracked third-party mirror, oldest first.
func (s *ThirdPartyMirrorStore) ListAll(ctx context.Context) ([]domain.ThirdPartyMirror, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, source_id, contract_id, market_url, seen_at
		 FROM third_party_mirrors ORDER BY seen_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list third-party mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []domain.ThirdPartyMirror
	for rows.Next() {
		m, err := scanThirdParty(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan third-party mirror: %w", err)
		}
		mirrors = append(mirrors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list third-party mirrors rows: %w", err)
	}
	return mirrors, nil
}

func scanThirdParty(row pgx.Row) (domain.ThirdPartyMirror, error) {
	var m domain.ThirdPartyMirror
	var source string
	err := row.Scan(&m.ID, &source, &m.SourceID, &m.ContractID, &m.MarketURL, &m.SeenAt)
	if err != nil {
		return domain.ThirdPartyMirror{}, err
	}
	m.Source = domain.Source(source)
	return m, nil
}
