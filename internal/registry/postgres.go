package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS hosts (
	host_id          TEXT PRIMARY KEY,
	hostname         TEXT NOT NULL DEFAULT '',
	ip_address       TEXT NOT NULL DEFAULT '',
	port             INTEGER NOT NULL DEFAULT 22,
	domain           TEXT NOT NULL DEFAULT '',
	os               TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	credential_ref   TEXT NOT NULL DEFAULT '',
	enabled          BOOLEAN NOT NULL DEFAULT TRUE,
	connection_count BIGINT NOT NULL DEFAULT 0,
	success_count    BIGINT NOT NULL DEFAULT 0,
	error_count      BIGINT NOT NULL DEFAULT 0,
	last_connected   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS collection_tasks (
	task_id             TEXT PRIMARY KEY,
	target_host         TEXT NOT NULL REFERENCES hosts (host_id),
	collection_class    TEXT NOT NULL,
	priority            TEXT NOT NULL DEFAULT 'NORMAL',
	retry_policy        TEXT NOT NULL DEFAULT '',
	interval_seconds    BIGINT NOT NULL DEFAULT 0,
	max_retry_count     INTEGER NOT NULL DEFAULT 3,
	enabled             BOOLEAN NOT NULL DEFAULT TRUE
);
`

const hostColumns = `host_id, hostname, ip_address, port, domain, os, username, credential_ref, enabled`

// PostgresRegistry reads hosts and tasks from Postgres. Statistics are kept in memory per
// host id so every lookup of the same host shares one set of counters; FlushStats writes
// them back.
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	stats sync.Map // host id -> *models.HostStats
}

func NewPostgresRegistry(ctx context.Context, connectionString string, logger *zap.Logger) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Connected to Postgres host registry")

	return &PostgresRegistry{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema creates the hosts and collection_tasks tables when missing
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create registry schema: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) statsFor(hostID string) *models.HostStats {
	stats, _ := r.stats.LoadOrStore(hostID, &models.HostStats{})
	return stats.(*models.HostStats)
}

func scanHost(row pgx.Row) (*models.Host, error) {
	var h models.Host
	err := row.Scan(&h.HostID, &h.Hostname, &h.IPAddress, &h.Port, &h.Domain, &h.OS, &h.Username, &h.CredentialRef, &h.Enabled)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *PostgresRegistry) GetHost(ctx context.Context, hostID string) (*models.Host, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE host_id = $1`, hostID)

	host, err := scanHost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load host %s: %w", hostID, err)
	}

	host.Stats = r.statsFor(host.HostID)
	return host, nil
}

func (r *PostgresRegistry) ListHosts(ctx context.Context) ([]*models.Host, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY host_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		host.Stats = r.statsFor(host.HostID)
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// UpsertHost inserts or replaces a host's registration, leaving its counters alone
func (r *PostgresRegistry) UpsertHost(ctx context.Context, h *models.Host) error {
	port := h.Port
	if port == 0 {
		port = 22
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO hosts (`+hostColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (host_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			ip_address = EXCLUDED.ip_address,
			port = EXCLUDED.port,
			domain = EXCLUDED.domain,
			os = EXCLUDED.os,
			username = EXCLUDED.username,
			credential_ref = EXCLUDED.credential_ref,
			enabled = EXCLUDED.enabled`,
		h.HostID, h.Hostname, h.IPAddress, port, h.Domain, h.OS, h.Username, h.CredentialRef, h.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert host %s: %w", h.HostID, err)
	}
	return nil
}

// UpsertTask inserts or replaces a task definition. Runtime state is not persisted.
func (r *PostgresRegistry) UpsertTask(ctx context.Context, t *models.CollectionTask) error {
	priority := t.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO collection_tasks (task_id, target_host, collection_class, priority, retry_policy, interval_seconds, max_retry_count, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			target_host = EXCLUDED.target_host,
			collection_class = EXCLUDED.collection_class,
			priority = EXCLUDED.priority,
			retry_policy = EXCLUDED.retry_policy,
			interval_seconds = EXCLUDED.interval_seconds,
			max_retry_count = EXCLUDED.max_retry_count,
			enabled = EXCLUDED.enabled`,
		t.TaskID, t.TargetHost, t.CollectionClass, string(priority), t.RetryPolicy,
		int64(t.CollectionInterval/time.Second), t.MaxRetryCount, t.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.TaskID, err)
	}
	return nil
}

// LoadTasks returns every task definition as a fresh PENDING task
func (r *PostgresRegistry) LoadTasks(ctx context.Context) ([]*models.CollectionTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, target_host, collection_class, priority, retry_policy, interval_seconds, max_retry_count, enabled
		FROM collection_tasks ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.CollectionTask
	for rows.Next() {
		var (
			t        models.CollectionTask
			priority string
			seconds  int64
		)
		if err := rows.Scan(&t.TaskID, &t.TargetHost, &t.CollectionClass, &priority, &t.RetryPolicy, &seconds, &t.MaxRetryCount, &t.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.Priority = models.TaskPriority(priority)
		t.CollectionInterval = time.Duration(seconds) * time.Second
		t.Status = models.TaskPending
		tasks = append(tasks, &t)
	}

	return tasks, rows.Err()
}

// FlushStats writes the in-memory host counters (since process start) back to the hosts table
func (r *PostgresRegistry) FlushStats(ctx context.Context) error {
	batch := &pgx.Batch{}

	r.stats.Range(func(key, value any) bool {
		snap := value.(*models.HostStats).Snapshot()
		batch.Queue(`
			UPDATE hosts SET connection_count = $2, success_count = $3, error_count = $4, last_connected = $5
			WHERE host_id = $1`,
			key.(string), snap.ConnectionCount, snap.SuccessCount, snap.ErrorCount, snap.LastConnected,
		)
		return true
	})

	if batch.Len() == 0 {
		return nil
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to flush host statistics: %w", err)
	}

	r.logger.Debug("Host statistics flushed", zap.Int("hosts", batch.Len()))
	return nil
}

func (r *PostgresRegistry) Close() {
	r.pool.Close()
}
