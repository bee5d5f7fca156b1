package usersettings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// PostgresStore reads user settings rows.
//
// Expected table:
//
//	CREATE TABLE user_settings (
//	    user_id              TEXT PRIMARY KEY,
//	    max_concurrent_calls INT NOT NULL DEFAULT 1,
//	    telephony            JSONB NOT NULL DEFAULT '{}'
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByUserID(ctx context.Context, userID string) (UserSettings, error) {
	if userID == "" {
		return UserSettings{}, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, max_concurrent_calls, telephony FROM user_settings WHERE user_id = $1`,
		userID)

	var (
		u    UserSettings
		tele []byte
	)
	err := row.Scan(&u.UserID, &u.MaxConcurrentCalls, &tele)
	if errors.Is(err, sql.ErrNoRows) {
		return UserSettings{UserID: userID, MaxConcurrentCalls: DefaultMaxConcurrentCalls}, nil
	}
	if err != nil {
		return UserSettings{}, err
	}
	if len(tele) > 0 {
		if err := json.Unmarshal(tele, &u.Telephony); err != nil {
			return UserSettings{}, err
		}
	}
	if u.MaxConcurrentCalls <= 0 {
		u.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	return u, nil
}
