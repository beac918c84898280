package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/forumwarden/internal/adapters"
	"github.com/iamwavecut/forumwarden/internal/adapters/llm/gemini"
	"github.com/iamwavecut/forumwarden/internal/adapters/llm/openai"
	"github.com/iamwavecut/forumwarden/internal/bot"
	"github.com/iamwavecut/forumwarden/internal/broker"
	"github.com/iamwavecut/forumwarden/internal/config"
	"github.com/iamwavecut/forumwarden/internal/consumer"
	"github.com/iamwavecut/forumwarden/internal/correlation"
	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/db/sqlstore"
	"github.com/iamwavecut/forumwarden/internal/executor"
	"github.com/iamwavecut/forumwarden/internal/forcedelete"
	"github.com/iamwavecut/forumwarden/internal/forum"
	moderation "github.com/iamwavecut/forumwarden/internal/handlers/moderation"
	"github.com/iamwavecut/forumwarden/internal/i18n"
	"github.com/iamwavecut/forumwarden/internal/infra"
	"github.com/iamwavecut/forumwarden/internal/lifecycle"
	"github.com/iamwavecut/forumwarden/internal/notify"
	"github.com/iamwavecut/forumwarden/internal/observability"
	"github.com/iamwavecut/forumwarden/internal/rules"
)

const shutdownTimeout = 30 * time.Second

var errExecutableReplaced = errors.New("executable file was modified")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("cant load config")
	}
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))
	i18n.SetDefaultLanguage(cfg.DefaultLanguage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, errExecutableReplaced) {
			log.Warn(err.Error())
			os.Exit(0)
		}
		log.WithError(err).Fatal("forumwarden stopped")
	}
	log.Info("forumwarden stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.SeedPath != "" {
		seed, err := rules.LoadSeed(cfg.SeedPath)
		if err != nil {
			return err
		}
		if err := rules.ApplySeed(ctx, store, seed); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("cant initialize bot api: %w", err)
	}
	log.WithField("bot", botAPI.Self.UserName).Info("bot authorized")

	model, closeModel, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	defer closeModel()

	pool := forum.NewPool(store, func(group *db.Group) (forum.Client, error) {
		return forum.NewHTTPClient(cfg.Forum.APIURL, group.Credential, cfg.Forum.Timeout), nil
	})
	corr := correlation.NewStore(rdb, cfg.Correlation.TTL)
	telegram := notify.NewTelegram(botAPI)
	renderer := notify.NewRenderer(model)

	exec := executor.NewExecutor(rules.NewResolver(store), store, pool, corr, telegram, renderer).
		WithDefaultBanDays(cfg.Escalation.DefaultBanDays)
	relay := executor.NewAppealRelay(store, corr, telegram, renderer)

	stream, err := broker.NewStream(rdb, broker.StreamOptions{
		Prefix:       cfg.Stream.Prefix,
		Streams:      cfg.Stream.Names,
		Group:        cfg.Stream.Group,
		Consumer:     cfg.Stream.Consumer,
		ClaimMinIdle: cfg.Stream.ClaimMinIdle,
	})
	if err != nil {
		return err
	}

	worker := forcedelete.NewWorker(forcedelete.NewRegistry(store), pool, store, telegram, forcedelete.Config{
		MaxDuration:   cfg.ForceDelete.MaxDuration(),
		RPS:           cfg.ForceDelete.RPS,
		Tick:          cfg.ForceDelete.Tick,
		Retriable:     cfg.ForceDelete.Retriable,
		Fatal:         cfg.ForceDelete.Fatal,
		NotifyExpired: cfg.ForceDelete.NotifyExpired,
	})

	runtime := lifecycle.NewRuntime()
	runtime.Register("metrics", observability.NewServer(cfg.MetricsAddr))
	runtime.Register("force_delete_worker", worker)
	runtime.Register("consumer", consumer.NewConsumer(stream, exec, relay, consumer.Config{
		Batch:         cfg.Stream.Batch,
		Block:         cfg.Stream.Block,
		MaxDeliveries: cfg.Stream.MaxDeliveries,
	}))
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Error("runtime stop failed")
		}
	}()

	service := bot.NewService(botAPI, store, log.WithField("object", "Service"))
	bot.RegisterUpdateHandler("escalation", moderation.NewEscalation(botAPI, corr, store, pool, worker, telegram, moderation.Config{
		DeleteReactions: cfg.Escalation.DeleteReactions,
		BanReactions:    cfg.Escalation.BanReactions,
		DefaultBanDays:  cfg.Escalation.DefaultBanDays,
	}))
	processor := bot.NewUpdateProcessor(service, cfg.EnabledHandlers)

	g, gctx := errgroup.WithContext(ctx)
	updates, updateErrs := bot.GetUpdatesChans(gctx, botAPI, bot.NewUpdateConfig(60))

	updatesDone := make(chan error, 1)
	go infra.GoRecoverable(-1, "process_updates", func() {
		updatesDone <- processUpdates(gctx, processor, updates, updateErrs)
	})
	g.Go(func() error {
		select {
		case err := <-updatesDone:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		if replaced := <-infra.MonitorExecutable(gctx, infra.DefaultExecCheckInterval); replaced {
			return errExecutableReplaced
		}
		return nil
	})

	log.Info("forumwarden started")
	return g.Wait()
}

func processUpdates(ctx context.Context, processor *bot.UpdateProcessor, updates api.UpdatesChannel, errs chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("bot api get updates error: %w", err)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := processor.Process(ctx, &update); err != nil {
				log.WithError(err).Errorln("cant process update")
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (*sqlstore.Client, error) {
	if cfg.Database.Driver == sqlstore.DriverSQLite && cfg.Database.DSN == "" {
		workDir, err := infra.GetWorkDir(cfg.DotPath)
		if err != nil {
			return nil, err
		}
		return sqlstore.NewSQLiteClient(ctx, workDir, "forumwarden.db")
	}
	return sqlstore.NewClient(ctx, cfg.Database.Driver, cfg.Database.DSN)
}

// newLLM returns a nil model when no key is configured; the renderer then
// falls back to the default template.
func newLLM(ctx context.Context, cfg config.LLM) (adapters.LLM, func(), error) {
	nop := func() {}
	if cfg.APIKey == "" {
		return nil, nop, nil
	}
	logger := log.WithField("object", "LLM").WithField("type", cfg.Type)
	switch cfg.Type {
	case "gemini":
		model, err := gemini.NewGemini(ctx, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, nop, err
		}
		return model, func() { _ = model.Close() }, nil
	case "openai", "":
		return openai.NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nop, nil
	default:
		return nil, nop, fmt.Errorf("unsupported llm type %q", cfg.Type)
	}
}
