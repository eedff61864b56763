// Package subscription реализует правила подписки: активность платного доступа,
// активацию ключей, дневную квоту бесплатных пользователей и операции администратора.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/keygen"
	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

var (
	// ErrKeyNotFound ключ не существует.
	ErrKeyNotFound = errors.New("access key not found")
	// ErrKeyAlreadyUsed ключ уже активирован.
	ErrKeyAlreadyUsed = errors.New("access key already used")
	// ErrKeyRedeemed активированный ключ нельзя удалить.
	ErrKeyRedeemed = errors.New("redeemed access key cannot be deleted")
	// ErrQuotaExceeded дневной лимит бесплатных загрузок исчерпан.
	ErrQuotaExceeded = errors.New("daily download limit reached")
	// ErrInvalidDuration длительность подписки должна быть положительной.
	ErrInvalidDuration = errors.New("duration must be positive")

	errTokenCollision = errors.New("generated token already exists")
)

// Cache рабочий набор пользователей и ключей.
type Cache interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	Update(ctx context.Context, userIDs []int64, tokens []string, fn func(tx *cache.Tx) error) error
	UpdateAllUsers(ctx context.Context, fn func(u *models.User) bool) (int, error)
	Snapshot(ctx context.Context) (*models.Snapshot, error)
	Now() time.Time
	Today() string
}

// Options параметры сервиса.
type Options struct {
	// FreeDailyLimit число загрузок в сутки для бесплатных пользователей.
	FreeDailyLimit int
	// RelaxedQuota отключает учёт незавершённых загрузок в квоте.
	RelaxedQuota bool
	// ResetOnRedeem отсчитывает новый срок от текущего момента, а не от даты окончания.
	ResetOnRedeem bool
	// NewToken генератор токенов, по умолчанию keygen.New.
	NewToken func() string
}

// Service сервис подписок.
type Service struct {
	cache         Cache
	log           *slog.Logger
	limit         int
	relaxed       bool
	resetOnRedeem bool
	newToken      func() string

	// pending число загрузок, допущенных по квоте, но ещё не учтённых в DailyCount.
	// Захватывается только под блокировкой кеша (внутри Cache.Update).
	pendingMu sync.Mutex
	pending   map[int64]int
}

// NewService создаёт сервис подписок.
func NewService(c Cache, log *slog.Logger, opts Options) *Service {
	if opts.NewToken == nil {
		opts.NewToken = keygen.New
	}
	return &Service{
		cache:         c,
		log:           log,
		limit:         opts.FreeDailyLimit,
		relaxed:       opts.RelaxedQuota,
		resetOnRedeem: opts.ResetOnRedeem,
		newToken:      opts.NewToken,
		pending:       make(map[int64]int),
	}
}

// IsActive сообщает, действует ли платная подписка в момент now.
// Подписка без даты окончания бессрочна. Нераспознанная дата считается
// действующей, чтобы не заблокировать оплатившего пользователя.
func IsActive(u models.User, now time.Time) bool {
	if !u.IsPaid {
		return false
	}
	if u.PaidUntil == nil || u.PaidUntil.Malformed() {
		return true
	}
	return u.PaidUntil.Time.After(now)
}

// Limit дневной лимит бесплатных загрузок.
func (s *Service) Limit() int {
	return s.limit
}

// EnsureUser регистрирует пользователя и обновляет его имя.
func (s *Service) EnsureUser(ctx context.Context, id int64, username, firstName string) (models.User, error) {
	const op = "services.subscription.EnsureUser"
	var out models.User
	err := s.cache.Update(ctx, []int64{id}, nil, func(tx *cache.Tx) error {
		u := tx.User(id)
		changed := false
		if username != "" && u.Username != username {
			u.Username = username
			changed = true
		}
		if firstName != "" && u.FirstName != firstName {
			u.FirstName = firstName
			changed = true
		}
		if changed {
			tx.PutUser(u)
		}
		out = u
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Redeem активирует ключ для пользователя и возвращает длительность ключа в днях.
// Параллельные активации одного ключа дают ровно один успех.
func (s *Service) Redeem(ctx context.Context, token string, userID int64) (int, error) {
	const op = "services.subscription.Redeem"
	token = keygen.Normalize(token)
	var days int
	err := s.cache.Update(ctx, []int64{userID}, []string{token}, func(tx *cache.Tx) error {
		k, ok := tx.Key(token)
		if !ok {
			return ErrKeyNotFound
		}
		if k.Redeemed() {
			return ErrKeyAlreadyUsed
		}
		now := tx.Now().UTC()
		u := tx.User(userID)
		s.extend(&u, k.DurationDays, now)

		by := userID
		k.RedeemedBy = &by
		k.RedeemedAt = &now
		tx.PutKey(k)
		tx.PutUser(u)
		days = k.DurationDays
		return nil
	})
	switch {
	case err == nil:
		metrics.KeyRedemptionsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, ErrKeyNotFound):
		metrics.KeyRedemptionsTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrKeyAlreadyUsed):
		metrics.KeyRedemptionsTotal.WithLabelValues("already_used").Inc()
	default:
		metrics.KeyRedemptionsTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("access key redeemed",
		slog.String("op", op),
		slog.Int64("user_id", userID),
		slog.Int("days", days),
	)
	return days, nil
}

// extend продлевает подписку на days дней. Действующий срок продлевается от даты
// окончания, бессрочная подписка остаётся бессрочной. С ResetOnRedeem срок
// всегда отсчитывается от now.
func (s *Service) extend(u *models.User, days int, now time.Time) {
	base := now
	if !s.resetOnRedeem && IsActive(*u, now) {
		if u.PaidUntil == nil {
			return
		}
		if !u.PaidUntil.Malformed() && u.PaidUntil.Time.After(now) {
			base = u.PaidUntil.Time
		}
	}
	u.IsPaid = true
	u.PaidUntil = models.NewExpiry(base.AddDate(0, 0, days))
}

// RecordDownload учитывает одну загрузку за текущий день.
func (s *Service) RecordDownload(ctx context.Context, userID int64) error {
	const op = "services.subscription.RecordDownload"
	err := s.cache.Update(ctx, []int64{userID}, nil, func(tx *cache.Tx) error {
		u := tx.User(userID)
		u.Normalize(tx.Today())
		u.DailyCount++
		tx.PutUser(u)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetAllDailyCounts обнуляет счётчики всех пользователей, чей счётчик
// относится не к today. Повторный вызов за тот же день ничего не меняет.
func (s *Service) ResetAllDailyCounts(ctx context.Context, today string) (int, error) {
	const op = "services.subscription.ResetAllDailyCounts"
	n, err := s.cache.UpdateAllUsers(ctx, func(u *models.User) bool {
		return u.Normalize(today)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// IssueKey создаёт новый ключ на days дней.
func (s *Service) IssueKey(ctx context.Context, days int) (models.AccessKey, error) {
	const op = "services.subscription.IssueKey"
	if days <= 0 {
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, ErrInvalidDuration)
	}
	var (
		key models.AccessKey
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		token := s.newToken()
		err = s.cache.Update(ctx, nil, []string{token}, func(tx *cache.Tx) error {
			if _, exists := tx.Key(token); exists {
				return errTokenCollision
			}
			key = models.AccessKey{
				Token:        token,
				DurationDays: days,
				CreatedAt:    tx.Now().UTC(),
			}
			tx.PutKey(key)
			return nil
		})
		if !errors.Is(err, errTokenCollision) {
			break
		}
	}
	if err != nil {
		return models.AccessKey{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("access key issued", slog.String("op", op), slog.Int("days", days))
	return key, nil
}

// ListKeys возвращает ключи в порядке создания. limit <= 0 снимает ограничение.
func (s *Service) ListKeys(ctx context.Context, limit int) ([]models.AccessKey, error) {
	const op = "services.subscription.ListKeys"
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys := make([]models.AccessKey, 0, len(snap.Keys))
	for _, k := range snap.Keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.Before(keys[j].CreatedAt)
		}
		return keys[i].Token < keys[j].Token
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// DeleteKey удаляет неактивированный ключ.
func (s *Service) DeleteKey(ctx context.Context, token string) error {
	const op = "services.subscription.DeleteKey"
	token = keygen.Normalize(token)
	err := s.cache.Update(ctx, nil, []string{token}, func(tx *cache.Tx) error {
		k, ok := tx.Key(token)
		if !ok {
			return ErrKeyNotFound
		}
		if k.Redeemed() {
			return ErrKeyRedeemed
		}
		tx.DeleteKey(token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GrantUser выдаёт пользователю платную подписку на days дней без ключа.
func (s *Service) GrantUser(ctx context.Context, userID int64, days int) (models.User, error) {
	const op = "services.subscription.GrantUser"
	if days <= 0 {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidDuration)
	}
	var out models.User
	err := s.cache.Update(ctx, []int64{userID}, nil, func(tx *cache.Tx) error {
		u := tx.User(userID)
		s.extend(&u, days, tx.Now().UTC())
		tx.PutUser(u)
		out = u
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription granted", slog.String("op", op), slog.Int64("user_id", userID), slog.Int("days", days))
	return out, nil
}

// RevokeUser сбрасывает платные поля пользователя.
func (s *Service) RevokeUser(ctx context.Context, userID int64) (models.User, error) {
	const op = "services.subscription.RevokeUser"
	var out models.User
	err := s.cache.Update(ctx, []int64{userID}, nil, func(tx *cache.Tx) error {
		u := tx.User(userID)
		u.ResetPaid()
		tx.PutUser(u)
		out = u
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription revoked", slog.String("op", op), slog.Int64("user_id", userID))
	return out, nil
}

// Status состояние подписки пользователя.
type Status struct {
	User      models.User
	Active    bool
	Unlimited bool
	// DaysLeft полных дней до окончания подписки.
	DaysLeft int
	// RemainingFree оставшиеся на сегодня бесплатные загрузки.
	RemainingFree int
	Limit         int
}

// Status возвращает состояние подписки пользователя.
func (s *Service) Status(ctx context.Context, userID int64) (Status, error) {
	const op = "services.subscription.Status"
	u, err := s.cache.GetUser(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}
	now := s.cache.Now()
	u.Normalize(s.cache.Today())

	st := Status{
		User:   u,
		Active: IsActive(u, now),
		Limit:  s.limit,
	}
	if st.Active {
		switch {
		case u.PaidUntil == nil || u.PaidUntil.Malformed():
			st.Unlimited = true
		default:
			st.DaysLeft = int(u.PaidUntil.Time.Sub(now) / (24 * time.Hour))
		}
		return st, nil
	}
	st.RemainingFree = max(s.limit-u.DailyCount, 0)
	return st, nil
}

// UserIDs возвращает идентификаторы всех известных пользователей по возрастанию.
func (s *Service) UserIDs(ctx context.Context) ([]int64, error) {
	const op = "services.subscription.UserIDs"
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids := make([]int64, 0, len(snap.Users))
	for id := range snap.Users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
