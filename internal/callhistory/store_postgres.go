package callhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore persists call history rows.
//
// Expected table:
//
//	CREATE TABLE call_history (
//	    call_id          TEXT PRIMARY KEY,
//	    user_id          TEXT NOT NULL,
//	    agent_id         TEXT NOT NULL DEFAULT '',
//	    customer_name    TEXT NOT NULL DEFAULT '',
//	    customer_phone   TEXT NOT NULL DEFAULT '',
//	    status           TEXT NOT NULL,
//	    started_at       TIMESTAMPTZ NOT NULL,
//	    ended_at         TIMESTAMPTZ,
//	    duration_seconds INT NOT NULL DEFAULT 0,
//	    end_reason       TEXT NOT NULL DEFAULT '',
//	    billed_seconds   INT NOT NULL DEFAULT 0,
//	    summary          TEXT NOT NULL DEFAULT '',
//	    short_summary    TEXT NOT NULL DEFAULT '',
//	    recording_url    TEXT NOT NULL DEFAULT '',
//	    metadata         JSONB NOT NULL DEFAULT '{}',
//	    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Insert(ctx context.Context, h CallHistory) error {
	if h.CallID == "" {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_history (
		     call_id, user_id, agent_id, customer_name, customer_phone,
		     status, started_at, duration_seconds, end_reason, billed_seconds,
		     summary, short_summary, recording_url, metadata, created_at, updated_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		h.CallID, h.UserID, h.AgentID, h.CustomerName, h.CustomerPhone,
		string(h.Status), h.StartedAt, h.DurationSeconds, h.EndReason, h.BilledDurationSeconds,
		h.Summary, h.ShortSummary, h.RecordingURL, meta, h.CreatedAt, now,
	)
	return err
}

func (s *PostgresStore) GetByCallID(ctx context.Context, callID string) (CallHistory, error) {
	if callID == "" {
		return CallHistory{}, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT call_id, user_id, agent_id, customer_name, customer_phone,
		        status, started_at, ended_at, duration_seconds, end_reason,
		        billed_seconds, summary, short_summary, recording_url,
		        metadata, created_at, updated_at
		 FROM call_history WHERE call_id = $1`, callID)

	var (
		h       CallHistory
		endedAt sql.NullTime
		meta    []byte
	)
	err := row.Scan(
		&h.CallID, &h.UserID, &h.AgentID, &h.CustomerName, &h.CustomerPhone,
		&h.Status, &h.StartedAt, &endedAt, &h.DurationSeconds, &h.EndReason,
		&h.BilledDurationSeconds, &h.Summary, &h.ShortSummary, &h.RecordingURL,
		&meta, &h.CreatedAt, &h.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallHistory{}, ErrNotFound
	}
	if err != nil {
		return CallHistory{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		h.EndedAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return CallHistory{}, err
		}
	}
	return h, nil
}

func (s *PostgresStore) ApplyTerminal(ctx context.Context, callID string, upd TerminalUpdate) (bool, error) {
	if callID == "" {
		return false, ErrInvalidArgument
	}
	// The status guard in the WHERE clause makes duplicate terminal webhooks
	// a no-op at the database level.
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_history SET
		     status = $1,
		     ended_at = $2,
		     duration_seconds = $3,
		     end_reason = $4,
		     billed_seconds = $5,
		     summary = CASE WHEN $6 <> '' THEN $6 ELSE summary END,
		     short_summary = CASE WHEN $7 <> '' THEN $7 ELSE short_summary END,
		     recording_url = CASE WHEN $8 <> '' THEN $8 ELSE recording_url END,
		     updated_at = $9
		 WHERE call_id = $10 AND status = $11`,
		string(upd.Status), upd.EndedAt, upd.DurationSeconds, upd.EndReason,
		upd.BilledDurationSeconds, upd.Summary, upd.ShortSummary, upd.RecordingURL,
		s.clock().UTC(), callID, string(StatusInProgress),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish "already terminal" from "unknown call id".
	if _, err := s.GetByCallID(ctx, callID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) MergeBilling(ctx context.Context, callID string, upd BillingUpdate) error {
	if callID == "" {
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_history SET
		     billed_seconds = CASE WHEN $1 > 0 THEN $1 ELSE billed_seconds END,
		     summary = CASE WHEN summary = '' THEN $2 ELSE summary END,
		     short_summary = CASE WHEN short_summary = '' THEN $3 ELSE short_summary END,
		     recording_url = CASE WHEN recording_url = '' THEN $4 ELSE recording_url END,
		     updated_at = $5
		 WHERE call_id = $6 AND status <> $7`,
		upd.BilledDurationSeconds, upd.Summary, upd.ShortSummary, upd.RecordingURL,
		s.clock().UTC(), callID, string(StatusInProgress),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByCallID(ctx, callID); err != nil {
			return err
		}
	}
	return nil
}
