package subscription

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/magabrotheeeer/terabox-bot/internal/cache"
)

// Reservation право на одну загрузку, выданное проверкой квоты.
// Должна быть завершена ровно одним вызовом Commit или Release.
type Reservation struct {
	svc     *Service
	userID  int64
	paid    bool
	counted bool
	done    atomic.Bool
}

// Paid сообщает, что пользователь допущен по платной подписке.
func (r *Reservation) Paid() bool {
	return r.paid
}

// Reserve проверяет квоту пользователя и резервирует одну загрузку.
// Возвращает ErrQuotaExceeded, если бесплатный лимит исчерпан. Незавершённые
// резервы учитываются в квоте, если не включён RelaxedQuota.
func (s *Service) Reserve(ctx context.Context, userID int64) (*Reservation, error) {
	const op = "services.subscription.Reserve"
	var res *Reservation
	err := s.cache.Update(ctx, []int64{userID}, nil, func(tx *cache.Tx) error {
		u := tx.User(userID)
		if u.Normalize(tx.Today()) {
			tx.PutUser(u)
		}
		if IsActive(u, tx.Now()) {
			res = &Reservation{svc: s, userID: userID, paid: true}
			return nil
		}
		if s.relaxed {
			if u.DailyCount >= s.limit {
				return ErrQuotaExceeded
			}
			res = &Reservation{svc: s, userID: userID}
			return nil
		}

		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		if u.DailyCount+s.pending[userID] >= s.limit {
			return ErrQuotaExceeded
		}
		s.pending[userID]++
		res = &Reservation{svc: s, userID: userID, counted: true}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Commit учитывает состоявшуюся загрузку. Для платных пользователей счётчик не меняется.
func (r *Reservation) Commit(ctx context.Context) error {
	const op = "services.subscription.Reservation.Commit"
	if !r.done.CompareAndSwap(false, true) {
		return nil
	}
	if r.paid {
		return nil
	}
	s := r.svc
	released := false
	err := s.cache.Update(ctx, []int64{r.userID}, nil, func(tx *cache.Tx) error {
		u := tx.User(r.userID)
		u.Normalize(tx.Today())
		u.DailyCount++
		tx.PutUser(u)
		if r.counted {
			s.releasePending(r.userID)
			released = true
		}
		return nil
	})
	if r.counted && !released {
		s.releasePending(r.userID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Release возвращает неиспользованный резерв.
func (r *Reservation) Release() {
	if !r.done.CompareAndSwap(false, true) {
		return
	}
	if r.counted {
		r.svc.releasePending(r.userID)
	}
}

func (s *Service) releasePending(userID int64) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending[userID] <= 1 {
		delete(s.pending, userID)
		return
	}
	s.pending[userID]--
}

// Pending число незавершённых резервов пользователя.
func (s *Service) Pending(userID int64) int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending[userID]
}
