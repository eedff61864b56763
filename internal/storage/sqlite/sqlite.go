// Package sqlite реализует хранилище снимка в локальной базе SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	// Регистрация драйвера sqlite (pure Go).
	_ "modernc.org/sqlite"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              INTEGER PRIMARY KEY,
	username        TEXT    NOT NULL DEFAULT '',
	first_name      TEXT    NOT NULL DEFAULT '',
	is_paid         INTEGER NOT NULL DEFAULT 0,
	paid_until      TEXT,
	daily_count     INTEGER NOT NULL DEFAULT 0,
	last_reset_date TEXT    NOT NULL DEFAULT '',
	created_at      TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS access_keys (
	token         TEXT    PRIMARY KEY,
	duration_days INTEGER NOT NULL CHECK (duration_days > 0),
	redeemed_by   INTEGER,
	redeemed_at   TEXT,
	created_at    TEXT    NOT NULL
);`

type userRow struct {
	ID            int64          `db:"id"`
	Username      string         `db:"username"`
	FirstName     string         `db:"first_name"`
	IsPaid        bool           `db:"is_paid"`
	PaidUntil     sql.NullString `db:"paid_until"`
	DailyCount    int            `db:"daily_count"`
	LastResetDate string         `db:"last_reset_date"`
	CreatedAt     string         `db:"created_at"`
}

type keyRow struct {
	Token        string         `db:"token"`
	DurationDays int            `db:"duration_days"`
	RedeemedBy   sql.NullInt64  `db:"redeemed_by"`
	RedeemedAt   sql.NullString `db:"redeemed_at"`
	CreatedAt    string         `db:"created_at"`
}

// Storage хранилище на SQLite.
type Storage struct {
	db *sqlx.DB
}

// New открывает (или создаёт) файл базы и схему таблиц.
func New(path string) (*Storage, error) {
	const op = "storage.sqlite.New"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &Storage{db: db}, nil
}

// Load читает все записи.
func (s *Storage) Load(ctx context.Context) (*models.Snapshot, error) {
	const op = "storage.sqlite.Load"
	var users []userRow
	if err := s.db.SelectContext(ctx, &users, `SELECT * FROM users`); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	var keys []keyRow
	if err := s.db.SelectContext(ctx, &keys, `SELECT * FROM access_keys`); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	snap := models.NewSnapshot()
	for _, r := range users {
		u, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		snap.Users[u.ID] = u
	}
	for _, r := range keys {
		k, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		snap.Keys[k.Token] = k
	}
	return snap, nil
}

// Save заменяет содержимое таблиц в одной транзакции.
func (s *Storage) Save(ctx context.Context, snap *models.Snapshot) error {
	const op = "storage.sqlite.Save"
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM access_keys`); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	for _, u := range snap.Users {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO users
			(id, username, first_name, is_paid, paid_until, daily_count, last_reset_date, created_at)
			VALUES (:id, :username, :first_name, :is_paid, :paid_until, :daily_count, :last_reset_date, :created_at)`,
			userFromModel(u)); err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
	}
	for _, k := range snap.Keys {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO access_keys
			(token, duration_days, redeemed_by, redeemed_at, created_at)
			VALUES (:token, :duration_days, :redeemed_by, :redeemed_at, :created_at)`,
			keyFromModel(k)); err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return nil
}

// GetUser читает одного пользователя.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.sqlite.GetUser"
	var r userRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	u, err := r.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &u, nil
}

// GetKey читает один ключ.
func (s *Storage) GetKey(ctx context.Context, token string) (*models.AccessKey, error) {
	const op = "storage.sqlite.GetKey"
	var r keyRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM access_keys WHERE token = ?`, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	k, err := r.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &k, nil
}

// Close закрывает соединение с базой.
func (s *Storage) Close() error {
	return s.db.Close()
}

func userFromModel(u models.User) userRow {
	r := userRow{
		ID:            u.ID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		IsPaid:        u.IsPaid,
		DailyCount:    u.DailyCount,
		LastResetDate: u.LastResetDate,
		CreatedAt:     formatTime(u.CreatedAt),
	}
	if u.PaidUntil != nil {
		r.PaidUntil = sql.NullString{String: u.PaidUntil.String(), Valid: true}
	}
	return r
}

func (r userRow) toModel() (models.User, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("user %d created_at: %w", r.ID, err)
	}
	u := models.User{
		ID:            r.ID,
		Username:      r.Username,
		FirstName:     r.FirstName,
		IsPaid:        r.IsPaid,
		DailyCount:    r.DailyCount,
		LastResetDate: r.LastResetDate,
		CreatedAt:     created.UTC(),
	}
	if r.PaidUntil.Valid {
		u.PaidUntil = models.ParseExpiry(r.PaidUntil.String)
	}
	return u, nil
}

func keyFromModel(k models.AccessKey) keyRow {
	r := keyRow{
		Token:        k.Token,
		DurationDays: k.DurationDays,
		CreatedAt:    formatTime(k.CreatedAt),
	}
	if k.RedeemedBy != nil {
		r.RedeemedBy = sql.NullInt64{Int64: *k.RedeemedBy, Valid: true}
	}
	if k.RedeemedAt != nil {
		r.RedeemedAt = sql.NullString{String: formatTime(*k.RedeemedAt), Valid: true}
	}
	return r
}

func (r keyRow) toModel() (models.AccessKey, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return models.AccessKey{}, fmt.Errorf("key %s created_at: %w", r.Token, err)
	}
	k := models.AccessKey{
		Token:        r.Token,
		DurationDays: r.DurationDays,
		CreatedAt:    created.UTC(),
	}
	if r.RedeemedBy.Valid {
		by := r.RedeemedBy.Int64
		k.RedeemedBy = &by
	}
	if r.RedeemedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, r.RedeemedAt.String)
		if err != nil {
			return models.AccessKey{}, fmt.Errorf("key %s redeemed_at: %w", r.Token, err)
		}
		at = at.UTC()
		k.RedeemedAt = &at
	}
	return k, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
