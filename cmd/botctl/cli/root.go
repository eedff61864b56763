// Package cli команды утилиты botctl.
//
// Команды работают напрямую с постоянным хранилищем из конфигурации бота.
// Для файлового хранилища бот на время работы утилиты должен быть остановлен.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	teraboxbot "github.com/magabrotheeeer/terabox-bot/internal/app/terabox-bot"
	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

type options struct {
	configPath string
	verbose    bool
}

// Execute собирает дерево команд и выполняет его.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "botctl",
		Short:         "Administer the terabox bot storage",
		Long:          "botctl issues access keys, manages subscriptions and moves snapshots between storage backends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $CONFIG_PATH)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log storage operations to stderr")

	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newKeyCmd(opts))
	cmd.AddCommand(newUserCmd(opts))
	cmd.AddCommand(newSnapshotCmd(opts))

	return cmd
}

func (o *options) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return nil, errors.New("config path is not set: use --config or CONFIG_PATH")
	}
	return config.Load(path)
}

func (o *options) logger() *slog.Logger {
	if o.verbose {
		return sl.New(sl.EnvLocal, os.Stderr)
	}
	return sl.Discard()
}

// env открытое хранилище с кешем и сервисом подписок поверх него.
type env struct {
	cfg   *config.Config
	store storage.Store
	cache *cache.Cache
	subs  *subscription.Service
	log   *slog.Logger
}

func (o *options) open(ctx context.Context) (*env, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	store, err := teraboxbot.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := o.logger()
	c := cache.New(store, log, cache.Options{Location: cfg.Location()})
	return &env{
		cfg:   cfg,
		store: store,
		cache: c,
		subs: subscription.NewService(c, log, subscription.Options{
			FreeDailyLimit: cfg.Limits.FreeDailyLimit,
			ResetOnRedeem:  cfg.Limits.ResetOnRedeem,
		}),
		log: log,
	}, nil
}

// close сохраняет изменения и закрывает хранилище.
func (e *env) close(ctx context.Context) error {
	_, flushErr := e.cache.ForceFlush(ctx)
	closeErr := e.store.Close()
	if flushErr != nil {
		return fmt.Errorf("save changes: %w", flushErr)
	}
	return closeErr
}

// withEnv открывает хранилище, выполняет fn и сохраняет изменения.
func (o *options) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, e)
}

// resolveDays срок из --plan или --days.
func resolveDays(cfg *config.Config, plan string, days int) (int, error) {
	if plan != "" {
		d, ok := cfg.PlanDays(plan)
		if !ok {
			return 0, fmt.Errorf("unknown plan %q", plan)
		}
		return d, nil
	}
	if days <= 0 {
		return 0, errors.New("either --plan or a positive --days is required")
	}
	return days, nil
}
