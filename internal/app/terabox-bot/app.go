package teraboxbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/terabox-bot/internal/bot"
	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/extractor"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/admission"
	"github.com/magabrotheeeer/terabox-bot/internal/services/auth"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/conversation"
	"github.com/magabrotheeeer/terabox-bot/internal/services/download"
	"github.com/magabrotheeeer/terabox-bot/internal/services/scheduler"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
	"github.com/magabrotheeeer/terabox-bot/internal/telegram"
)

const (
	telegramRequestTimeout = 15 * time.Second
	shutdownTimeout        = 15 * time.Second
)

// App приложение бота: опрос чат-платформы, фоновые задачи, очередь
// рассылок и административный HTTP-сервер.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Store
	cache     *cache.Cache
	bot       *bot.Bot
	scheduler *scheduler.Service
	server    *http.Server

	broadcaster *broadcast.Service
	background  *broadcast.Background
	amqpConn    *amqp.Connection
	consumeCh   *amqp.Channel
}

// New собирает приложение. Контекст ограничивает подключения к внешним
// системам и служит базовым контекстом фоновых рассылок.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	if err := os.MkdirAll(cfg.Transfer.DownloadDir, 0o750); err != nil {
		return nil, fmt.Errorf("%s: create download dir: %w", op, err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	snap, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: load snapshot: %w", op, err)
	}
	logger.Info("storage opened",
		slog.String("driver", cfg.Storage.Driver),
		slog.Int("users", len(snap.Users)),
		slog.Int("keys", len(snap.Keys)),
	)

	workingSet := cache.New(store, logger, cache.Options{
		MinFlushInterval: cfg.Cache.MinFlushInterval,
		Location:         cfg.Location(),
	})
	subs := subscription.NewService(workingSet, logger, subscription.Options{
		FreeDailyLimit: cfg.Limits.FreeDailyLimit,
		RelaxedQuota:   cfg.Limits.RelaxedQuota,
		ResetOnRedeem:  cfg.Limits.ResetOnRedeem,
	})

	tg := telegram.New(cfg.Bot.APIURL, cfg.Bot.Token, telegramRequestTimeout)
	controller := admission.New(subs, logger, cfg.Limits.MaxConcurrentDownloads, cfg.Limits.MaxVideoSizeMB)
	pipeline := download.New(
		controller,
		extractor.NewClient(cfg.Extractor.URLTemplate, cfg.Extractor.Timeout),
		tg,
		&http.Client{},
		cfg.Transfer.DownloadDir,
		logger,
	)

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cache:  workingSet,
		scheduler: scheduler.NewService(subs, workingSet, logger, scheduler.Options{
			Location:      cfg.Location(),
			FlushTick:     cfg.Cache.FlushTick,
			SweepInterval: cfg.Cache.TTL,
		}),
		broadcaster: broadcast.NewService(subs, tg, logger, cfg.Bot.BroadcastRate, 1),
	}

	var dispatcher broadcast.Dispatcher = a.broadcaster
	var apiDispatcher broadcast.Dispatcher
	if cfg.RabbitMQ.URL != "" {
		queue, err := a.connectQueue(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		dispatcher, apiDispatcher = queue, queue
	} else {
		a.background = broadcast.NewBackground(ctx, a.broadcaster, logger)
		apiDispatcher = a.background
	}

	a.bot = bot.New(tg, subs, pipeline, dispatcher, conversation.New(conversation.DefaultTTL, nil), logger, bot.Config{
		AdminIDs:        cfg.Bot.AdminIDs,
		Plans:           cfg.Plans,
		ContactText:     cfg.Bot.ContactText,
		FreeDailyLimit:  cfg.Limits.FreeDailyLimit,
		MaxSizeMB:       cfg.Limits.MaxVideoSizeMB,
		PollTimeout:     cfg.Bot.PollTimeout,
		DownloadTimeout: cfg.Transfer.Timeout,
		MessageRate:     cfg.Bot.MessageRate,
		MessageBurst:    cfg.Bot.MessageBurst,
	})

	if cfg.HTTPServer.AddressHTTP != "" {
		deps := RouteDeps{
			Admin:       subs,
			Broadcaster: apiDispatcher,
			Plans:       cfg.Plans,
			RateLimit:   cfg.HTTPServer.RateLimit,
		}
		if cfg.JWTToken.JWTSecretKey != "" {
			maker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)
			deps.Auth = auth.NewAuthService(cfg.Admin.Username, cfg.Admin.PasswordHash, maker)
		} else {
			logger.Warn("jwt secret is not set, admin api is disabled")
		}

		router := chi.NewRouter()
		RegisterRoutes(router, logger, deps)
		a.server = &http.Server{
			Addr:         cfg.HTTPServer.AddressHTTP,
			Handler:      router,
			ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
			WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
			IdleTimeout:  cfg.HTTPServer.IdleTimeout,
		}
	}

	return a, nil
}

// connectQueue подключается к RabbitMQ и объявляет очередь рассылок.
// Публикация и потребление идут по разным каналам.
func (a *App) connectQueue(ctx context.Context) (*broadcast.Queue, error) {
	const op = "app.connectQueue"
	conn, err := rabbitmq.Connect(ctx, a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.MaxRetries, a.cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	publishCh, err := rabbitmq.SetupChannel(conn, rabbitmq.BroadcastExchange, rabbitmq.BroadcastQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	consumeCh, err := rabbitmq.SetupChannel(conn, rabbitmq.BroadcastExchange, rabbitmq.BroadcastQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.amqpConn = conn
	a.consumeCh = consumeCh
	a.logger.Info("broadcast queue connected")
	return broadcast.NewQueue(publishCh), nil
}

// Run запускает все компоненты и блокируется до отмены ctx или первой
// фатальной ошибки. Перед возвратом сохраняет несохранённые изменения.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bot.Run(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})

	if a.consumeCh != nil {
		g.Go(func() error {
			err := rabbitmq.ConsumerMessage(gctx, a.consumeCh, rabbitmq.BroadcastQueue, a.logger, a.broadcaster.Handle)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			a.logger.Info("shutting down HTTP server gracefully")
			return a.server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if a.background != nil {
		a.background.Wait()
	}
	a.close()
	return err
}

// close сохраняет изменения загрузок, завершившихся после остановки
// планировщика, и освобождает соединения.
func (a *App) close() {
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := a.cache.ForceFlush(flushCtx); err != nil {
		a.logger.Error("final flush failed", sl.Err(err))
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			a.logger.Warn("failed to close rabbitmq connection", sl.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
