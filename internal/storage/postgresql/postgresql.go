// Package postgresql реализует хранилище снимка на PostgreSQL.
// Схема создаётся миграциями из internal/migrations.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/terabox-bot/internal/migrations"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

const (
	selectUsers = `SELECT id, username, first_name, is_paid, paid_until,
		daily_count, last_reset_date, created_at FROM users`
	selectKeys = `SELECT token, duration_days, redeemed_by, redeemed_at, created_at FROM access_keys`
)

// Storage инкапсулирует соединение с PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New подключается к PostgreSQL и применяет миграции из migrationsPath.
// Пустой migrationsPath пропускает миграции.
func New(ctx context.Context, connString, migrationsPath string) (*Storage, error) {
	const op = "storage.postgresql.New"

	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	if migrationsPath != "" {
		if _, err := migrations.Run(db, migrationsPath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
	}
	return &Storage{DB: db}, nil
}

// Load читает все записи.
func (s *Storage) Load(ctx context.Context) (*models.Snapshot, error) {
	const op = "storage.postgresql.Load"
	snap := models.NewSnapshot()

	rows, err := s.DB.QueryContext(ctx, selectUsers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		snap.Users[u.ID] = u
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}

	rows, err = s.DB.QueryContext(ctx, selectKeys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
		snap.Keys[k.Token] = k
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return snap, nil
}

// Save заменяет содержимое таблиц в одной транзакции.
func (s *Storage) Save(ctx context.Context, snap *models.Snapshot) error {
	const op = "storage.postgresql.Save"
	tx, err := s.DB.BeginTx(ctx, nil)
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
		var paidUntil sql.NullString
		if u.PaidUntil != nil {
			paidUntil = sql.NullString{String: u.PaidUntil.String(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO users
			(id, username, first_name, is_paid, paid_until, daily_count, last_reset_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.Username, u.FirstName, u.IsPaid, paidUntil, u.DailyCount, u.LastResetDate, u.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
		}
	}
	for _, k := range snap.Keys {
		var (
			redeemedBy sql.NullInt64
			redeemedAt sql.NullTime
		)
		if k.RedeemedBy != nil {
			redeemedBy = sql.NullInt64{Int64: *k.RedeemedBy, Valid: true}
		}
		if k.RedeemedAt != nil {
			redeemedAt = sql.NullTime{Time: k.RedeemedAt.UTC(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO access_keys
			(token, duration_days, redeemed_by, redeemed_at, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			k.Token, k.DurationDays, redeemedBy, redeemedAt, k.CreatedAt.UTC())
		if err != nil {
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
	const op = "storage.postgresql.GetUser"
	u, err := scanUser(s.DB.QueryRowContext(ctx, selectUsers+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &u, nil
}

// GetKey читает один ключ.
func (s *Storage) GetKey(ctx context.Context, token string) (*models.AccessKey, error) {
	const op = "storage.postgresql.GetKey"
	k, err := scanKey(s.DB.QueryRowContext(ctx, selectKeys+` WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
	}
	return &k, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var (
		u         models.User
		paidUntil sql.NullString
		createdAt time.Time
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.IsPaid, &paidUntil,
		&u.DailyCount, &u.LastResetDate, &createdAt); err != nil {
		return models.User{}, err
	}
	if paidUntil.Valid {
		u.PaidUntil = models.ParseExpiry(paidUntil.String)
	}
	u.CreatedAt = createdAt.UTC()
	return u, nil
}

func scanKey(row scanner) (models.AccessKey, error) {
	var (
		k          models.AccessKey
		redeemedBy sql.NullInt64
		redeemedAt sql.NullTime
		createdAt  time.Time
	)
	if err := row.Scan(&k.Token, &k.DurationDays, &redeemedBy, &redeemedAt, &createdAt); err != nil {
		return models.AccessKey{}, err
	}
	if redeemedBy.Valid {
		by := redeemedBy.Int64
		k.RedeemedBy = &by
	}
	if redeemedAt.Valid {
		at := redeemedAt.Time.UTC()
		k.RedeemedAt = &at
	}
	k.CreatedAt = createdAt.UTC()
	return k, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}
