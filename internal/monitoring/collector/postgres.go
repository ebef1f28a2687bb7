package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// postgresCollector polls pg_stat_database for connection and transaction
// statistics of one database.
type postgresCollector struct {
	db     *sql.DB
	dbname string
}

// NewPostgresCollector opens a connection pool and verifies it.
func NewPostgresCollector(dsn, dbname string) (Collector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	return &postgresCollector{db: db, dbname: dbname}, nil
}

func (c *postgresCollector) Name() string { return "postgres" }
func (c *postgresCollector) Description() string {
	return "PostgreSQL connection and transaction statistics from pg_stat_database"
}

func (c *postgresCollector) Collect(ctx context.Context) ([]model.MetricPoint, error) {
	now := model.UnixSeconds(time.Now())
	const q = `
SELECT numbackends, xact_commit, xact_rollback, blks_read, blks_hit, deadlocks
FROM pg_stat_database WHERE datname = $1`
	var backends int64
	var commits, rollbacks, blksRead, blksHit, deadlocks float64
	if err := c.db.QueryRowContext(ctx, q, c.dbname).Scan(
		&backends, &commits, &rollbacks, &blksRead, &blksHit, &deadlocks); err != nil {
		return nil, fmt.Errorf("query pg_stat_database: %w", err)
	}

	tags := map[string]string{"database": c.dbname}
	points := []model.MetricPoint{
		taggedGauge(now, "pg_connections", float64(backends), "", tags),
		taggedCounter(now, "pg_xact_commit", commits, tags),
		taggedCounter(now, "pg_xact_rollback", rollbacks, tags),
		taggedCounter(now, "pg_deadlocks", deadlocks, tags),
	}
	if total := blksRead + blksHit; total > 0 {
		points = append(points, taggedGauge(now, "pg_cache_hit_ratio", blksHit/total*100, "percent", tags))
	}
	return points, nil
}

func taggedCounter(ts float64, name string, value float64, tags map[string]string) model.MetricPoint {
	return model.MetricPoint{
		Name:      name,
		Type:      model.MetricCounter,
		Value:     value,
		Timestamp: ts,
		Tags:      tags,
	}
}
