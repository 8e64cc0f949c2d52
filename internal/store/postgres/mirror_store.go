package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// MirrorStore implements domain.MirrorStore using PostgreSQL.
type MirrorStore struct {
	pool *pgxpool.Pool
}

// NewMirrorStore creates a new MirrorStore backed by the given connection
// pool.
func NewMirrorStore(pool *pgxpool.Pool) *MirrorStore {
	return &MirrorStore{pool: pool}
}

const mirrorCols = `id, source, source_id, source_url, question,
	contract_id, market_url, created_at, resolved, resolved_at`

// scanMirror scans a single mirror row into a domain.MirrorRecord.
func scanMirror(row pgx.Row) (domain.MirrorRecord, error) {
	var rec domain.MirrorRecord
	var source string
	err := row.Scan(
		&rec.ID, &source, &rec.SourceID, &rec.SourceURL, &rec.Question,
		&rec.ContractID, &rec.MarketURL, &rec.CreatedAt, &rec.Resolved, &rec.ResolvedAt,
	)
	if err != nil {
		return domain.MirrorRecord{}, err
	}
	rec.Source = domain.Source(source)
	return rec, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Insert records a freshly created mirror. A (source, source id) or contract
// id collision returns ErrDuplicateMirror.
func (s *MirrorStore) Insert(ctx context.Context, rec *domain.MirrorRecord) error {
	const query = `
		INSERT INTO mirrors (source, source_id, source_url, question, contract_id, market_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		string(rec.Source), rec.SourceID, rec.SourceURL, rec.Question,
		rec.ContractID, rec.MarketURL, createdAt,
	).Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert mirror %s/%s: %w", rec.Source, rec.SourceID, domain.ErrDuplicateMirror)
		}
		return fmt.Errorf("postgres: insert mirror %s/%s: %w", rec.Source, rec.SourceID, err)
	}
	rec.CreatedAt = createdAt
	return nil
}

// GetBySource retrieves the mirror for a source question, if any.
func (s *MirrorStore) GetBySource(ctx context.Context, source domain.Source, sourceID string) (*domain.MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorCols+` FROM mirrors WHERE source = $1 AND source_id = $2`,
		string(source), sourceID)
	rec, err := scanMirror(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get mirror %s/%s: %w", source, sourceID, err)
	}
	return &rec, nil
}

// GetByContractID retrieves a mirror by its destination contract id.
func (s *MirrorStore) GetByContractID(ctx context.Context, contractID string) (*domain.MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorCols+` FROM mirrors WHERE contract_id = $1`, contractID)
	rec, err := scanMirror(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get mirror by contract %s: %w", contractID, err)
	}
	return &rec, nil
}

// FindByDestinationURL retrieves a mirror by its destination market URL.
func (s *MirrorStore) FindByDestinationURL(ctx context.Context, rawURL string) (*domain.MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorCols+` FROM mirrors WHERE market_url = $1`, rawURL)
	rec, err := scanMirror(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find mirror by url %s: %w", rawURL, err)
	}
	return &rec, nil
}

// ListUnresolved returns mirrors still awaiting a source resolution, oldest
// first. An empty source matches all platforms.
func (s *MirrorStore) ListUnresolved(ctx context.Context, source domain.Source) ([]domain.MirrorRecord, error) {
	query := `SELECT ` + mirrorCols + ` FROM mirrors WHERE NOT resolved`
	args := []any{}
	if source != "" {
		query += ` AND source = $1`
		args = append(args, string(source))
	}
	query += ` ORDER BY created_at`

	return s.listMirrors(ctx, query, args...)
}

// ListAll returns every mirror, optionally only resolved ones.
func (s *MirrorStore) ListAll(ctx context.Context, resolvedOnly bool) ([]domain.MirrorRecord, error) {
	query := `SELECT ` + mirrorCols + ` FROM mirrors`
	if resolvedOnly {
		query += ` WHERE resolved`
	}
	query += ` ORDER BY created_at`

	return s.listMirrors(ctx, query)
}

// ListResolvedBefore returns mirrors resolved strictly before the cutoff,
// oldest first.
func (s *MirrorStore) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.MirrorRecord, error) {
	return s.listMirrors(ctx,
		`SELECT `+mirrorCols+` FROM mirrors WHERE resolved AND resolved_at < $1 ORDER BY resolved_at`,
		cutoff)
}

// CountCreatedSince counts mirrors for a source created at or after the
// cutoff.
func (s *MirrorStore) CountCreatedSince(ctx context.Context, source domain.Source, cutoff time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mirrors WHERE source = $1 AND created_at >= $2`,
		string(source), cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count mirrors for %s: %w", source, err)
	}
	return count, nil
}

// MarkResolved flips the resolved flag exactly once. The guard in the WHERE
// clause makes the transition one-way at the database level.
func (s *MirrorStore) MarkResolved(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mirrors SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND NOT resolved`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark mirror %d resolved: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var resolved bool
		err := s.pool.QueryRow(ctx, `SELECT resolved FROM mirrors WHERE id = $1`, id).Scan(&resolved)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: mark mirror %d resolved: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("postgres: mark mirror %d resolved: %w", id, err)
		}
		return fmt.Errorf("postgres: mark mirror %d resolved: %w", id, domain.ErrAlreadyResolved)
	}
	return nil
}

// listMirrors runs a mirror query and scans all rows.
func (s *MirrorStore) listMirrors(ctx context.Context, query string, args ...any) ([]domain.MirrorRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mirrors: %w", err)
	}
	defer rows.Close()

	var records []domain.MirrorRecord
	for rows.Next() {
		rec, err := scanMirror(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mirror: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list mirrors rows: %w", err)
	}
	return records, nil
}
