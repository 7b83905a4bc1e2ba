package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/auth"
	"github.com/xiaot623/gogo/realtime/internal/config"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	internalhttp "github.com/xiaot623/gogo/realtime/internal/http"
	"github.com/xiaot623/gogo/realtime/internal/logging"
	"github.com/xiaot623/gogo/realtime/internal/notify"
	"github.com/xiaot623/gogo/realtime/internal/policy"
	"github.com/xiaot623/gogo/realtime/internal/presence"
	"github.com/xiaot623/gogo/realtime/internal/relay"
	"github.com/xiaot623/gogo/realtime/internal/repository"
	"github.com/xiaot623/gogo/realtime/internal/service"
	"github.com/xiaot623/gogo/realtime/internal/transport/rpc"
	"github.com/xiaot623/gogo/realtime/internal/ws"
)

func buildNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func()) {
	var sinks notify.Multi
	var closers []func() error

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		k := notify.NewKafkaNotifier(brokers, cfg.KafkaNotifyTopic, logger)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaNotifyTopic))
	}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.NotifyWebhookURL))
		logger.Info("webhook notifications enabled", zap.String("url", cfg.NotifyWebhookURL))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to close notifier", zap.Error(err))
			}
		}
	}
	switch len(sinks) {
	case 0:
		return notify.Nop{}, closeAll
	case 1:
		return sinks[0], closeAll
	default:
		return sinks, closeAll
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("rpc_port", cfg.RPCPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	s, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	// Auth
	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}
	authn := auth.NewAuthenticator(verifier, auth.NewTokenCache(cfg.AuthCacheTTL()), logger)
	go authn.RunSweeper(ctx, time.Minute)

	// Hub, optionally fanned out across gateway processes through Redis
	var hubOpts []hub.Option
	if cfg.RedisAddr != "" {
		r, err := relay.NewRedisRelay(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			return fmt.Errorf("failed to connect relay: %w", err)
		}
		defer r.Close()
		hubOpts = append(hubOpts, hub.WithRelay(r))
		logger.Info("redis relay enabled", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}
	connectionHub := hub.NewHub(logger, hubOpts...)
	go connectionHub.Run(ctx)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	tracker := presence.NewTracker(s, logger, presence.WithDelays(cfg.PresenceOnlineDelay(), cfg.PresenceOfflineDelay()))
	defer tracker.Stop()

	notifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()
	dispatcher := notify.NewDispatcher(notifier, 10*time.Second, logger)

	svc := service.New(s, connectionHub, engine, tracker, dispatcher, cfg, logger)

	// WebSocket server
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(internalhttp.RequestLogger(logger))
	wsEcho.Use(middleware.Recover())
	ws.NewServer(cfg, authn, svc, logger).Register(wsEcho)

	httpServer := internalhttp.NewServer(svc, authn, logger)

	errs := make(chan error, 3)
	go func() {
		if err := wsEcho.Start(fmt.Sprintf(":%d", cfg.WSPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("websocket server: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Start(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc, logger)
		if err != nil {
			return fmt.Errorf("failed to create rpc server: %w", err)
		}
		if err := rpcServer.Listen(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				errs <- fmt.Errorf("rpc server: %w", err)
			}
		}()
	}

	logger.Info("gateway started", zap.String("node", connectionHub.Node()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errs:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server did not shut down cleanly", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down cleanly", zap.Error(err))
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("rpc server did not shut down cleanly", zap.Error(err))
		}
	}
	dispatcher.Wait()

	logger.Info("gateway stopped")
	return runErr
}
