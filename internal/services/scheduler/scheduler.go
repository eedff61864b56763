// Package scheduler фоновые задачи бота: ежедневный сброс счётчиков,
// периодический сброс кеша на диск и очистка кеша.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
)

// shutdownFlushTimeout время на финальный сброс кеша при остановке.
const shutdownFlushTimeout = 10 * time.Second

// Resetter сбрасывает дневные счётчики загрузок.
type Resetter interface {
	ResetAllDailyCounts(ctx context.Context, today string) (int, error)
}

// Cache кеш, который нужно периодически сбрасывать в хранилище.
type Cache interface {
	Flush(ctx context.Context) (bool, error)
	ForceFlush(ctx context.Context) (bool, error)
	InvalidateAll() int
}

// Options настройки планировщика.
type Options struct {
	Location      *time.Location
	FlushTick     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Service планировщик фоновых задач.
type Service struct {
	resetter Resetter
	cache    Cache
	log      *slog.Logger
	loc      *time.Location
	flush    time.Duration
	sweep    time.Duration
	now      func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(resetter Resetter, cache Cache, log *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FlushTick <= 0 {
		opts.FlushTick = time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		resetter: resetter,
		cache:    cache,
		log:      log,
		loc:      opts.Location,
		flush:    opts.FlushTick,
		sweep:    opts.SweepInterval,
		now:      opts.Now,
	}
}

// NextMidnight возвращает ближайшую полночь после now в часовом поясе loc.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Run запускает все задачи и блокируется до отмены ctx.
// После остановки задач выполняется принудительный сброс кеша.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.RunDailyReset(gctx); return nil })
	g.Go(func() error { s.RunFlush(gctx); return nil })
	g.Go(func() error { s.RunSweep(gctx); return nil })
	_ = g.Wait()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
	defer cancel()
	if _, err := s.cache.ForceFlush(fctx); err != nil {
		s.log.Error("final cache flush failed", sl.Err(err))
		return err
	}
	s.log.Info("scheduler stopped")
	return nil
}

// RunDailyReset ждёт полуночи и сбрасывает счётчики. Время ожидания
// пересчитывается на каждой итерации, поэтому ошибка не накапливается.
func (s *Service) RunDailyReset(ctx context.Context) {
	for {
		wait := NextMidnight(s.now(), s.loc).Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runDailyReset(ctx)
	}
}

func (s *Service) runDailyReset(ctx context.Context) {
	today := s.now().In(s.loc).Format(time.DateOnly)
	n, err := s.resetter.ResetAllDailyCounts(ctx, today)
	if err != nil {
		s.log.Error("failed to reset daily counts", slog.String("date", today), sl.Err(err))
		return
	}
	metrics.DailyResetsTotal.Inc()
	s.log.Info("daily counts reset", slog.String("date", today), slog.Int("users", n))
}

// RunFlush периодически сбрасывает изменённые записи кеша в хранилище.
func (s *Service) RunFlush(ctx context.Context) {
	ticker := time.NewTicker(s.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cache.Flush(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("cache flush failed", sl.Err(err))
			}
		}
	}
}

// RunSweep периодически сбрасывает чистые записи кеша, чтобы внешние
// изменения хранилища становились видны.
func (s *Service) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.cache.InvalidateAll()
			s.log.Debug("cache swept", slog.Int("dropped", n))
		}
	}
}
