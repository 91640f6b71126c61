package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"openideax/collab/internal/api"
	"openideax/collab/internal/assistant"
	"openideax/collab/internal/config"
	"openideax/collab/internal/jobs"
	"openideax/collab/internal/llm"
	_ "openideax/collab/internal/llm/gemini"
	_ "openideax/collab/internal/llm/mock"
	"openideax/collab/internal/notify"
	"openideax/collab/internal/prompts"
	"openideax/collab/internal/routers"
	"openideax/collab/internal/session"
	"openideax/collab/internal/utils"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
	exit           = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	zap.L().Error("collab-svc exited", zap.Error(err))
	exit(1)
}

func run(ctx context.Context) error {
	// a missing .env is fine; the environment wins either way
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.IsDev())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	notifier := newNotifier(ctx, cfg, logger)
	defer func() { _ = notifier.Close() }()

	hub := session.NewHubWithDeps(logger.Named("hub"), notifier)
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go hub.Run(hubCtx)

	provider, err := llm.NewProvider(cfg.AIProvider)
	if err != nil {
		return err
	}
	promptManager, err := prompts.NewPromptManager()
	if err != nil {
		return err
	}
	personas, err := assistant.DefaultCatalog()
	if err != nil {
		return err
	}
	ai := assistant.New(provider, promptManager, personas, hub, logger.Named("assistant"), cfg.AITimeout)
	gateway := session.NewGateway(hub, ai, logger.Named("gateway"))

	sweeper := jobs.NewRoomSweeper(hub, jobs.SweeperConfig{
		Schedule: cfg.RoomSweepSchedule,
		IdleTTL:  cfg.RoomIdleTTL,
	}, logger.Named("sweeper"))
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	handlers := api.NewHandlers(logger.Named("api"), cfg, gateway, ai, promptManager)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routers.New(handlers, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("collab-svc listening",
			zap.String("addr", srv.Addr),
			zap.String("ai_provider", provider.GetProviderName()))
		errCh <- listenAndServe(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.RedisAddr == "" {
		return notify.Nop{}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := notify.NewRedisNotifier(pingCtx, cfg.RedisAddr, cfg.RedisChannel, logger.Named("notify"))
	if err != nil {
		logger.Warn("redis unavailable, room events will not be published", zap.Error(err))
		return notify.Nop{}
	}
	logger.Info("publishing room events", zap.String("redis_addr", cfg.RedisAddr), zap.String("channel", n.Channel()))
	return n
}
