// Package admission ограничивает число одновременных загрузок и проверяет
// квоту пользователя до того, как загрузка займёт слот.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
)

var (
	// ErrQuotaExceeded дневной лимит бесплатных загрузок исчерпан.
	ErrQuotaExceeded = subscription.ErrQuotaExceeded
	// ErrTooLarge файл превышает допустимый размер.
	ErrTooLarge = errors.New("video exceeds size limit")
)

// Quota резервирует загрузку в дневной квоте пользователя.
type Quota interface {
	Reserve(ctx context.Context, userID int64) (*subscription.Reservation, error)
}

// Controller контроль допуска загрузок.
type Controller struct {
	sem       *semaphore.Weighted
	capacity  int
	inFlight  atomic.Int64
	quota     Quota
	maxSizeMB float64
	log       *slog.Logger
}

// New создаёт контроллер на capacity одновременных загрузок.
func New(quota Quota, log *slog.Logger, capacity int, maxSizeMB float64) *Controller {
	return &Controller{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  capacity,
		quota:     quota,
		maxSizeMB: maxSizeMB,
		log:       log,
	}
}

// Ticket допуск к одной загрузке: занятый слот и резерв квоты.
type Ticket struct {
	c      *Controller
	res    *subscription.Reservation
	userID int64
	once   sync.Once
}

// Admit сначала проверяет квоту, затем ждёт свободный слот. При отказе по
// квоте слот не занимается. Ожидание слота прерывается отменой ctx.
func (c *Controller) Admit(ctx context.Context, userID int64) (*Ticket, error) {
	const op = "services.admission.Admit"
	res, err := c.quota.Reserve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	start := time.Now()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		res.Release()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.AdmissionWaitSeconds.Observe(time.Since(start).Seconds())
	metrics.DownloadsInFlight.Set(float64(c.inFlight.Add(1)))

	c.log.Debug("download admitted",
		slog.String("op", op),
		slog.Int64("user_id", userID),
		slog.Bool("paid", res.Paid()),
	)
	return &Ticket{c: c, res: res, userID: userID}, nil
}

// InFlight число занятых слотов.
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// Capacity общее число слотов.
func (c *Controller) Capacity() int {
	return c.capacity
}

// MaxSizeMB допустимый размер файла.
func (c *Controller) MaxSizeMB() float64 {
	return c.maxSizeMB
}

// Paid сообщает, что загрузка не расходует бесплатную квоту.
func (t *Ticket) Paid() bool {
	return t.res.Paid()
}

// CheckSize возвращает ErrTooLarge, если размер больше допустимого.
func (t *Ticket) CheckSize(sizeMB float64) error {
	if sizeMB > t.c.maxSizeMB {
		return fmt.Errorf("%w: %.1f MB, max %.0f MB", ErrTooLarge, sizeMB, t.c.maxSizeMB)
	}
	return nil
}

// Done освобождает слот и завершает резерв квоты: при success загрузка
// учитывается, иначе резерв возвращается. Повторные вызовы ничего не делают.
func (t *Ticket) Done(ctx context.Context, success bool) error {
	const op = "services.admission.Ticket.Done"
	var err error
	t.once.Do(func() {
		t.c.sem.Release(1)
		metrics.DownloadsInFlight.Set(float64(t.c.inFlight.Add(-1)))

		if !success {
			t.res.Release()
			return
		}
		if cerr := t.res.Commit(ctx); cerr != nil {
			err = fmt.Errorf("%s: %w", op, cerr)
		}
	})
	return err
}
