package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tmflab/tmftrader/internal/store"
)

// SafetyState returns the durable state row for key, or nil when unset.
func (s *DB) SafetyState(ctx context.Context, key string) (*store.SafetyState, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	row := s.ext.QueryRowxContext(ctx,
		`SELECT key, value_json, updated_ts FROM safety_state WHERE key = ?`, key)

	var st store.SafetyState
	if err := row.StructScan(&st); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: safety state %s: %v", store.ErrUnavailable, key, err)
	}
	return &st, nil
}

// SetSafetyState writes (replacing) the state row for key.
func (s *DB) SetSafetyState(ctx context.Context, key string, value store.JSONMap) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO safety_state (key, value_json, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_ts=excluded.updated_ts`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("%w: set safety state %s: %v", store.ErrUnavailable, key, err)
	}
	return nil
}

// InsertHealthCheck appends one audit row.
func (s *DB) InsertHealthCheck(ctx context.Context, hc *store.HealthCheck) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `
		INSERT INTO health_checks (ts, name, kind, status, summary_json)
		VALUES (?, ?, ?, ?, ?)`,
		hc.TS, hc.Name, hc.Kind, hc.Status, hc.Summary)
	if err != nil {
		return fmt.Errorf("%w: insert health check %s: %v", store.ErrUnavailable, hc.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: health check id: %v", store.ErrUnavailable, err)
	}
	hc.ID = id
	return nil
}

// RecentHealthChecks returns newest-first audit rows.
func (s *DB) RecentHealthChecks(ctx context.Context, limit int) ([]store.HealthCheck, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	rows, err := s.ext.QueryxContext(ctx, `
		SELECT id, ts, name, kind, status, summary_json
		FROM health_checks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query health checks: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.HealthCheck
	for rows.Next() {
		var hc store.HealthCheck
		if err := rows.StructScan(&hc); err != nil {
			return nil, fmt.Errorf("%w: scan health check: %v", store.ErrUnavailable, err)
		}
		out = append(out, hc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate health checks: %v", store.ErrUnavailable, err)
	}
	return out, nil
}
