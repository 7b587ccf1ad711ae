package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wb-go/wbf/dbpg"
	_ "modernc.org/sqlite"

	"github.com/aliskhannn/pixmix-relay/internal/model"
)

var ErrDeviceNotFound = errors.New("device registration not found")

// executor is the subset shared by *dbpg.DB and *sql.DB.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type queries struct {
	migrate string
	upsert  string
	get     string
	remove  string
}

var postgresQueries = queries{
	migrate: `
		CREATE TABLE IF NOT EXISTS user_tokens (
			user_id      TEXT PRIMARY KEY,
			fcm_token    TEXT NOT NULL,
			platform     TEXT NOT NULL DEFAULT 'ios',
			last_updated TIMESTAMPTZ NOT NULL
		)
	`,
	upsert: `
		INSERT INTO user_tokens (user_id, fcm_token, platform, last_updated)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'ios'), $4)
		ON CONFLICT (user_id) DO UPDATE SET
			fcm_token    = EXCLUDED.fcm_token,
			platform     = CASE WHEN $3 = '' THEN user_tokens.platform ELSE EXCLUDED.platform END,
			last_updated = EXCLUDED.last_updated
	`,
	get: `
		SELECT fcm_token, platform, last_updated
		FROM user_tokens
		WHERE user_id = $1
	`,
	remove: `
		DELETE FROM user_tokens WHERE user_id = $1
	`,
}

var sqliteQueries = queries{
	migrate: `
		CREATE TABLE IF NOT EXISTS user_tokens (
			user_id      TEXT PRIMARY KEY,
			fcm_token    TEXT NOT NULL,
			platform     TEXT NOT NULL DEFAULT 'ios',
			last_updated TIMESTAMP NOT NULL
		)
	`,
	upsert: `
		INSERT INTO user_tokens (user_id, fcm_token, platform, last_updated)
		VALUES (?1, ?2, COALESCE(NULLIF(?3, ''), 'ios'), ?4)
		ON CONFLICT (user_id) DO UPDATE SET
			fcm_token    = excluded.fcm_token,
			platform     = CASE WHEN ?3 = '' THEN user_tokens.platform ELSE excluded.platform END,
			last_updated = excluded.last_updated
	`,
	get: `
		SELECT fcm_token, platform, last_updated
		FROM user_tokens
		WHERE user_id = ?
	`,
	remove: `
		DELETE FROM user_tokens WHERE user_id = ?
	`,
}

// Repository stores device registrations in a SQL table keyed by user id.
type Repository struct {
	db  executor
	q   queries
	now func() time.Time
}

// NewRepository creates a Repository on PostgreSQL.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db, q: postgresQueries, now: time.Now}
}

// NewSQLiteRepository creates a Repository on an SQLite database opened with OpenSQLite.
func NewSQLiteRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: sqliteQueries, now: time.Now}
}

// OpenSQLite opens the database file at path. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

// Migrate creates the user_tokens table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.q.migrate); err != nil {
		return fmt.Errorf("migrate: failed to create user_tokens: %w", err)
	}

	return nil
}

// Upsert inserts or merges a registration. An empty platform keeps the stored one
// (ios for new rows); last_updated is always refreshed.
func (r *Repository) Upsert(ctx context.Context, reg model.DeviceRegistration) error {
	if err := validate(reg); err != nil {
		return err
	}

	_, err := r.db.ExecContext(
		ctx, r.q.upsert, reg.UserID, reg.DeviceToken, string(reg.Platform), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert: failed to save device token: %w", err)
	}

	return nil
}

// Get returns the registration for userID or ErrDeviceNotFound.
func (r *Repository) Get(ctx context.Context, userID string) (model.DeviceRegistration, error) {
	reg := model.DeviceRegistration{UserID: userID}

	var platform string
	err := r.db.QueryRowContext(ctx, r.q.get, userID).Scan(&reg.DeviceToken, &platform, &reg.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeviceRegistration{}, ErrDeviceNotFound
		}

		return model.DeviceRegistration{}, fmt.Errorf("get: failed to get device token: %w", err)
	}
	reg.Platform = model.Platform(platform)

	return reg, nil
}

// Lookup returns the device token for userID. found is false when none is registered.
func (r *Repository) Lookup(ctx context.Context, userID string) (string, bool, error) {
	return lookupVia(ctx, r.Get, userID)
}

// Remove deletes the registration for userID. Removing an absent user is not an error.
func (r *Repository) Remove(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, r.q.remove, userID); err != nil {
		return fmt.Errorf("delete: failed to delete device token: %w", err)
	}

	return nil
}

func validate(reg model.DeviceRegistration) error {
	if strings.TrimSpace(reg.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(reg.DeviceToken) == "" {
		return errors.New("device token is required")
	}

	return nil
}

func lookupVia(
	ctx context.Context,
	get func(context.Context, string) (model.DeviceRegistration, error),
	userID string,
) (string, bool, error) {
	reg, err := get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return "", false, nil
		}

		return "", false, err
	}

	return reg.DeviceToken, true, nil
}
