// Package postgres persists session values in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/portal-pesantren/portal-sub001/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	tableName = "client_state"

	// DefaultProfile namespaces values when none is configured.
	DefaultProfile = "default"
)

// Store implements session.Persister on the client_state table.
type Store struct {
	db      *sql.DB
	profile string
	ttl     time.Duration
	now     func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Config configures the PostgreSQL persister.
type Config struct {
	// Profile separates the values of several clients sharing a database.
	Profile string

	// TTL expires values this long after their last write. Zero keeps
	// them until deleted.
	TTL time.Duration
}

// New creates a new PostgreSQL persister.
func New(db *sql.DB, cfg Config) *Store {
	profile := cfg.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	return &Store{
		db:      db,
		profile: profile,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Get implements session.Persister. Expired values are reported missing.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := psq.Select("value").From(tableName).
		Where(sq.Eq{"profile": s.profile, "key": key}).
		Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": s.now().UTC()}}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("building state query: %w", err)
	}

	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading client state: %w", err)
	}
	return value, true, nil
}

// Set implements session.Persister.
func (s *Store) Set(ctx context.Context, key, value string) error {
	now := s.now().UTC()
	var expiresAt *time.Time
	if s.ttl > 0 {
		t := now.Add(s.ttl)
		expiresAt = &t
	}

	query, args, err := psq.Insert(tableName).
		Columns("profile", "key", "value", "updated_at", "expires_at").
		Values(s.profile, key, value, now, expiresAt).
		Suffix("ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building state upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing client state: %w", err)
	}
	return nil
}

// Delete implements session.Persister.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := psq.Delete(tableName).
		Where(sq.Eq{"profile": s.profile, "key": keys}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building state delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting client state: %w", err)
	}
	return nil
}

// Cleanup removes expired values of every profile.
func (s *Store) Cleanup(ctx context.Context) error {
	query, args, err := psq.Delete(tableName).
		Where(sq.LtOrEq{"expires_at": s.now().UTC()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up client state: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired values. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("client state cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ session.Persister = (*Store)(nil)
