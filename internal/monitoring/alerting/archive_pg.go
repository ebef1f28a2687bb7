package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// Archive persists fired alerts beyond the in-memory history window. Metric
// history itself is deliberately not persisted; only alert rows are.
type Archive interface {
	InsertAlert(ctx context.Context, a *model.Alert) error
	MarkResolved(ctx context.Context, a *model.Alert) error
}

// NoopArchive is used when no database is configured.
type NoopArchive struct{}

func (NoopArchive) InsertAlert(ctx context.Context, a *model.Alert) error  { return nil }
func (NoopArchive) MarkResolved(ctx context.Context, a *model.Alert) error { return nil }

// PgArchive writes alert rows to the alert_history table via a pgx pool.
type PgArchive struct {
	pool *pgxpool.Pool
}

// NewPgArchive connects to Postgres and verifies the connection.
func NewPgArchive(ctx context.Context, dsn string) (*PgArchive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PgArchive{pool: pool}, nil
}

// Close releases the pool.
func (s *PgArchive) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PgArchive) InsertAlert(ctx context.Context, a *model.Alert) error {
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	const q = `
	INSERT INTO alert_history(id, rule_name, metric_name, current_value, threshold, severity, message, fired_at, tags, resolved)
	VALUES ($1, $2, $3, $4, $5, $6, $7, to_timestamp($8), $9::jsonb, false)
	ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, q, a.ID, a.RuleName, a.MetricName, a.CurrentValue,
		a.Threshold, a.Severity.String(), a.Message, a.Timestamp, string(tags)); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PgArchive) MarkResolved(ctx context.Context, a *model.Alert) error {
	var resolvedAt float64
	if a.ResolvedAt != nil {
		resolvedAt = *a.ResolvedAt
	}
	const q = `UPDATE alert_history SET resolved = true, resolved_at = to_timestamp($2) WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, a.ID, resolvedAt); err != nil {
		return fmt.Errorf("mark alert resolved: %w", err)
	}
	return nil
}
