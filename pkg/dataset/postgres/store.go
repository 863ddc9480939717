// Package postgres persists the fallback dataset in PostgreSQL so it
// survives restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const tableName = "pesantren_snapshot"

// Store implements dataset.Store on the pesantren_snapshot table.
type Store struct {
	db       *sql.DB
	capacity int
	now      func() time.Time
}

// Config configures the store.
type Config struct {
	// Capacity is how many rows are kept; older rows are pruned on upsert.
	Capacity int
}

// New creates a snapshot store.
func New(db *sql.DB, cfg Config) *Store {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = dataset.DefaultCapacity
	}
	return &Store{db: db, capacity: capacity, now: time.Now}
}

// Upsert implements dataset.Store.
func (s *Store) Upsert(ctx context.Context, items ...pesantren.Pesantren) error {
	if len(items) == 0 {
		return nil
	}

	// Earlier items are more recent; give them later timestamps.
	base := s.now().UTC()
	qb := psq.Insert(tableName).
		Columns("id", "name", "province", "programs", "rating", "data", "seen_at")
	seen := make(map[string]struct{}, len(items))
	for i, p := range items {
		if _, dup := seen[p.ID]; dup || p.ID == "" {
			continue
		}
		seen[p.ID] = struct{}{}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding pesantren %s: %w", p.ID, err)
		}
		seenAt := base.Add(-time.Duration(i) * time.Microsecond)
		programs := p.Programs
		if programs == nil {
			programs = []string{}
		}
		qb = qb.Values(p.ID, p.Name, p.Province, pq.Array(programs), p.Rating, data, seenAt)
	}
	if len(seen) == 0 {
		return nil
	}
	qb = qb.Suffix(`ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		province = EXCLUDED.province,
		programs = EXCLUDED.programs,
		rating = EXCLUDED.rating,
		data = EXCLUDED.data,
		seen_at = EXCLUDED.seen_at`)

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building snapshot upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return s.prune(ctx)
}

// prune deletes everything beyond the newest capacity rows.
func (s *Store) prune(ctx context.Context) error {
	keep := psq.Select("id").From(tableName).
		OrderBy("seen_at DESC").
		Limit(uint64(s.capacity)) //nolint:gosec // capacity is positive
	keepSQL, keepArgs, err := keep.ToSql()
	if err != nil {
		return fmt.Errorf("building prune subquery: %w", err)
	}

	query, args, err := psq.Delete(tableName).
		Where(sq.Expr("id NOT IN ("+keepSQL+")", keepArgs...)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building prune query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pruning snapshot: %w", err)
	}
	return nil
}

// All implements dataset.Store.
func (s *Store) All(ctx context.Context) ([]pesantren.Pesantren, error) {
	return s.query(ctx, psq.Select("data").From(tableName))
}

// ByProvince returns stored rows in province, most recent first.
func (s *Store) ByProvince(ctx context.Context, province string) ([]pesantren.Pesantren, error) {
	return s.query(ctx, psq.Select("data").From(tableName).Where(sq.Eq{"province": province}))
}

// ByProgram returns stored rows offering program, most recent first.
func (s *Store) ByProgram(ctx context.Context, program string) ([]pesantren.Pesantren, error) {
	return s.query(ctx, psq.Select("data").From(tableName).
		Where(sq.Expr("programs && ?", pq.Array([]string{program}))))
}

func (s *Store) query(ctx context.Context, qb sq.SelectBuilder) ([]pesantren.Pesantren, error) {
	query, args, err := qb.OrderBy("seen_at DESC").
		Limit(uint64(s.capacity)). //nolint:gosec // capacity is positive
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building snapshot query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]pesantren.Pesantren, 0, s.capacity)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var p pesantren.Pesantren
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decoding snapshot row: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return items, nil
}

// Verify interface compliance.
var _ dataset.Store = (*Store)(nil)
