package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedial-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists campaigns with contacts embedded as a JSONB array,
// mirroring the document-style shape the scheduler expects. The claim runs
// as SELECT ... FOR UPDATE inside a transaction so concurrent claims on one
// campaign serialize on the row lock.
//
// Expected table:
//
//	CREATE TABLE campaigns (
//	    campaign_id       TEXT PRIMARY KEY,
//	    user_id           TEXT NOT NULL,
//	    type              TEXT NOT NULL,
//	    agent_ref         TEXT NOT NULL DEFAULT '',
//	    status            TEXT NOT NULL,
//	    schedule          JSONB,
//	    outbound_medium   JSONB,
//	    contacts          JSONB NOT NULL DEFAULT '[]',
//	    completed_calls   INT NOT NULL DEFAULT 0,
//	    successful_calls  INT NOT NULL DEFAULT 0,
//	    failed_calls      INT NOT NULL DEFAULT 0,
//	    started_at        TIMESTAMPTZ,
//	    completed_at      TIMESTAMPTZ,
//	    last_processed_at TIMESTAMPTZ,
//	    paused_reason     TEXT NOT NULL DEFAULT '',
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX campaigns_user_status_idx ON campaigns (user_id, status);
//	CREATE INDEX campaigns_status_idx ON campaigns (status);
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const claimRetries = 3

const campaignColumns = `campaign_id, user_id, type, agent_ref, status,
	schedule, outbound_medium, contacts,
	completed_calls, successful_calls, failed_calls,
	started_at, completed_at, last_processed_at, paused_reason,
	created_at, updated_at`

func (s *PostgresStore) GetByID(ctx context.Context, campaignID string) (*Campaign, error) {
	if campaignID == "" {
		return nil, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = $1`, campaignID)
	return scanCampaign(row)
}

func (s *PostgresStore) ListByUserAndStatus(ctx context.Context, userID string, statuses ...Status) ([]*Campaign, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE user_id = $1`
	args := []any{userID}
	if len(statuses) > 0 {
		q += ` AND status = ANY($2)`
		args = append(args, statusSlice(statuses))
	}
	q += ` ORDER BY created_at, campaign_id`
	return s.queryCampaigns(ctx, q, args...)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}
	if len(statuses) > 0 {
		q += ` WHERE status = ANY($1)`
		args = append(args, statusSlice(statuses))
	}
	q += ` ORDER BY created_at, campaign_id`
	return s.queryCampaigns(ctx, q, args...)
}

func statusSlice(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *PostgresStore) queryCampaigns(ctx context.Context, q string, args ...any) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (*Campaign, error) {
	var (
		c                    Campaign
		schedule, medium     sql.NullString
		contacts             []byte
		startedAt, completed sql.NullTime
		lastProcessed        sql.NullTime
	)
	err := r.Scan(
		&c.CampaignID, &c.UserID, &c.Type, &c.AgentRef, &c.Status,
		&schedule, &medium, &contacts,
		&c.CompletedCalls, &c.SuccessfulCalls, &c.FailedCalls,
		&startedAt, &completed, &lastProcessed, &c.PausedReason,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if schedule.Valid && schedule.String != "" {
		c.Schedule = &Schedule{}
		if err := json.Unmarshal([]byte(schedule.String), c.Schedule); err != nil {
			return nil, fmt.Errorf("campaign %s: bad schedule json: %w", c.CampaignID, err)
		}
	}
	if medium.Valid && medium.String != "" {
		c.OutboundMedium = &OutboundMedium{}
		if err := json.Unmarshal([]byte(medium.String), c.OutboundMedium); err != nil {
			return nil, fmt.Errorf("campaign %s: bad medium json: %w", c.CampaignID, err)
		}
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &c.Contacts); err != nil {
			return nil, fmt.Errorf("campaign %s: bad contacts json: %w", c.CampaignID, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	if lastProcessed.Valid {
		t := lastProcessed.Time
		c.LastProcessedAt = &t
	}
	return &c, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, campaignID string, upd StatusUpdate) error {
	if campaignID == "" {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()

	sets := []string{"updated_at = $1"}
	args := []any{now}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Status != "" {
		add("status", string(upd.Status))
	}
	if upd.PausedReason != nil {
		add("paused_reason", *upd.PausedReason)
	}
	if upd.StartedAt != nil {
		add("started_at", nullableTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		add("completed_at", nullableTime(*upd.CompletedAt))
	}
	if upd.LastProcessedAt != nil {
		add("last_processed_at", nullableTime(*upd.LastProcessedAt))
	}

	args = append(args, campaignID)
	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE campaign_id = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClaimPendingContact(ctx context.Context, campaignID string) (*Claim, error) {
	if campaignID == "" {
		return nil, ErrInvalidArgument
	}

	for attempt := 0; attempt < claimRetries; attempt++ {
		claim, err := s.claimOnce(ctx, campaignID)
		if err == nil {
			return claim, nil
		}
		if isSerializationFailure(err) {
			continue
		}
		return nil, err
	}
	// Lost the race repeatedly; yield so the caller tries the next campaign.
	return nil, nil
}

func (s *PostgresStore) claimOnce(ctx context.Context, campaignID string) (*Claim, error) {
	var out *Claim
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = $1 FOR UPDATE`, campaignID)
		c, err := scanCampaign(row)
		if err != nil {
			return err
		}

		var claimed *Contact
		for i := range c.Contacts {
			if c.Contacts[i].CallStatus == ContactPending {
				now := s.clock().UTC()
				c.Contacts[i].CallStatus = ContactInProgress
				c.Contacts[i].CalledAt = &now
				claimed = &c.Contacts[i]
				break
			}
		}
		if claimed == nil {
			return nil
		}

		b, err := json.Marshal(c.Contacts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET contacts = $1, updated_at = $2 WHERE campaign_id = $3`,
			b, s.clock().UTC(), campaignID); err != nil {
			return err
		}
		out = &Claim{Campaign: c, Contact: *claimed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (s *PostgresStore) UpdateContact(ctx context.Context, campaignID, contactID string, upd ContactUpdate) error {
	if campaignID == "" || contactID == "" {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT contacts FROM campaigns WHERE campaign_id = $1 FOR UPDATE`, campaignID)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var contacts []Contact
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &contacts); err != nil {
				return err
			}
		}
		found := false
		for i := range contacts {
			if contacts[i].ContactID == contactID {
				applyContactUpdate(&contacts[i], upd)
				found = true
				break
			}
		}
		if !found {
			return ErrNotFound
		}
		b, err := json.Marshal(contacts)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET contacts = $1, updated_at = $2 WHERE campaign_id = $3`,
			b, s.clock().UTC(), campaignID)
		return err
	})
}

func (s *PostgresStore) ContactCounts(ctx context.Context, campaignID string) (ContactCounts, error) {
	c, err := s.GetByID(ctx, campaignID)
	if err != nil {
		return ContactCounts{}, err
	}
	return c.CountContacts(), nil
}

func (s *PostgresStore) IncrementTotals(ctx context.Context, campaignID string, completed, successful, failed int) error {
	if campaignID == "" {
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns
		 SET completed_calls = completed_calls + $1,
		     successful_calls = successful_calls + $2,
		     failed_calls = failed_calls + $3,
		     updated_at = $4
		 WHERE campaign_id = $5`,
		completed, successful, failed, s.clock().UTC(), campaignID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
