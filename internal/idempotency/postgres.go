package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/donna/internal/events"
)

// PostgresStore is the shared-database backend. Lock acquisition rides on a
// primary-key insert, so at-most-once execution per (event, stage) holds
// across processes, not just within one.
type PostgresStore struct {
	pool    *pgxpool.Pool
	lockTTL time.Duration
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPipelineSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, lockTTL: defaultLockTTL}, nil
}

func initPipelineSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS processing_records (
			event_id TEXT PRIMARY KEY,
			event_title TEXT NOT NULL DEFAULT '',
			planning_status TEXT NOT NULL DEFAULT 'idle',
			planning_tasks JSONB NOT NULL DEFAULT '[]',
			specialized_task JSONB NULL,
			last_updated TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pipeline_locks (
			event_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (event_id, stage)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init pipeline schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE event_id=$1`, eventID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("has processed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, record events.ProcessingRecord) error {
	if record.EventID == "" {
		return fmt.Errorf("save record: event id is required")
	}

	// Read-modify-write inside one transaction with the row locked, so two
	// stages updating different fields of the same record cannot interleave.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, found, err := scanRecord(tx.QueryRow(ctx,
		`SELECT event_id, event_title, planning_status, planning_tasks, specialized_task, last_updated
		   FROM processing_records WHERE event_id=$1 FOR UPDATE`, record.EventID))
	if err != nil {
		return err
	}
	if !found {
		existing = events.ProcessingRecord{EventID: record.EventID}
	}

	now := time.Now().UTC()
	merged := mergeRecord(existing, record, now)

	tasksJSON, err := json.Marshal(merged.PlanningTasks)
	if err != nil {
		return fmt.Errorf("marshal planning tasks: %w", err)
	}
	if merged.PlanningTasks == nil {
		tasksJSON = []byte("[]")
	}
	var specJSON []byte
	if merged.SpecializedTask != nil {
		specJSON, err = json.Marshal(merged.SpecializedTask)
		if err != nil {
			return fmt.Errorf("marshal specialized task: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO processing_records (event_id, event_title, planning_status, planning_tasks, specialized_task, last_updated)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (event_id) DO UPDATE SET
			event_title=EXCLUDED.event_title,
			planning_status=EXCLUDED.planning_status,
			planning_tasks=EXCLUDED.planning_tasks,
			specialized_task=EXCLUDED.specialized_task,
			last_updated=EXCLUDED.last_updated`,
		merged.EventID, merged.EventTitle, string(merged.PlanningStatus), tasksJSON, specJSON, merged.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadRecord(ctx context.Context, eventID string) (events.ProcessingRecord, bool, error) {
	rec, found, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT event_id, event_title, planning_status, planning_tasks, specialized_task, last_updated
		   FROM processing_records WHERE event_id=$1`, eventID))
	if err != nil {
		return events.ProcessingRecord{}, false, err
	}
	return rec, found, nil
}

func (s *PostgresStore) LoadAllRecords(ctx context.Context) (map[string]events.ProcessingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, event_title, planning_status, planning_tasks, specialized_task, last_updated
		   FROM processing_records`)
	if err != nil {
		// Degrade to "nothing processed yet" rather than failing the caller.
		return map[string]events.ProcessingRecord{}, nil
	}
	defer rows.Close()

	out := make(map[string]events.ProcessingRecord)
	for rows.Next() {
		rec, found, err := scanRecord(rows)
		if err != nil || !found {
			continue
		}
		out[rec.EventID] = rec
	}
	return out, nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, eventID string, stage events.Stage) (bool, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_locks WHERE acquired_at < $1`, now.Add(-s.lockTTL))
	if err != nil {
		return false, fmt.Errorf("reap stale locks: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_locks (event_id, stage, acquired_at) VALUES ($1,$2,$3)
		 ON CONFLICT (event_id, stage) DO NOTHING`,
		eventID, string(stage), now)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, eventID string, stage events.Stage) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_locks WHERE event_id=$1 AND stage=$2`, eventID, string(stage))
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetEvent(ctx context.Context, eventID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM processed_events WHERE event_id=$1`,
		`DELETE FROM processing_records WHERE event_id=$1`,
		`DELETE FROM pipeline_locks WHERE event_id=$1`,
	} {
		if _, err := tx.Exec(ctx, stmt, eventID); err != nil {
			return fmt.Errorf("reset event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (events.ProcessingRecord, bool, error) {
	var (
		rec       events.ProcessingRecord
		status    string
		tasksJSON []byte
		specJSON  []byte
	)
	err := row.Scan(&rec.EventID, &rec.EventTitle, &status, &tasksJSON, &specJSON, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return events.ProcessingRecord{}, false, nil
		}
		return events.ProcessingRecord{}, false, fmt.Errorf("scan record: %w", err)
	}
	rec.PlanningStatus = events.PlanningStatus(status)
	if len(tasksJSON) > 0 {
		if err := json.Unmarshal(tasksJSON, &rec.PlanningTasks); err != nil {
			return events.ProcessingRecord{}, false, fmt.Errorf("decode planning tasks: %w", err)
		}
	}
	if len(specJSON) > 0 {
		var t events.Task
		if err := json.Unmarshal(specJSON, &t); err != nil {
			return events.ProcessingRecord{}, false, fmt.Errorf("decode specialized task: %w", err)
		}
		rec.SpecializedTask = &t
	}
	return rec, true, nil
}
