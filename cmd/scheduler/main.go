package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/admin"
	"github.com/xela07ax/spaceai-agentops/internal/app"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"github.com/xela07ax/spaceai-agentops/internal/infra/auth"
	"github.com/xela07ax/spaceai-agentops/internal/remediation"
	"github.com/xela07ax/spaceai-agentops/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scheduler:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизненного цикла: SIGINT/SIGTERM отменяют фоновые горутины
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Зависимости
	a, err := app.New(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := scheduler.OptionsFromConfig(cfg.Scheduler)
	if err != nil {
		return err
	}
	sched := scheduler.New(a.Platform, a.Agents, opts, a.Journal, a.Metrics, logger)

	// 3. Фоновые слушатели Redis
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.Sandbox.StartListener(appCtx) }()
	go func() { defer wg.Done(); a.Approvals.Start(appCtx) }()

	// 4. Admin HTTP
	adminSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler: admin.NewServer(admin.Deps{
			Scheduler: sched,
			Sandbox:   a.Sandbox,
			Decisions: remediation.NewDecisionPublisher(a.Redis),
			Validator: operatorValidator(cfg, logger),
			Gatherer:  a.Registry,
		}, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("admin API started", zap.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin API failed", zap.Error(err))
			cancel()
		}
	}()

	// 5. gRPC health
	health := engine.NewHealthServer(logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error("gRPC health failed", zap.Error(err))
		}
	}()

	// 6. Основной цикл. Сигнал останавливает его через Stop: начатая задача
	// доводится до терминального статуса.
	go func() {
		<-appCtx.Done()
		sched.Stop()
	}()
	health.SetServing(true)
	sched.Run(context.WithoutCancel(appCtx))

	// 7. Graceful Shutdown
	logger.Info("scheduler stopping")
	health.SetServing(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin API shutdown failed", zap.Error(err))
	}
	health.Stop()
	cancel()
	wg.Wait()

	logger.Info("scheduler exited properly")
	return nil
}

// operatorValidator: nil, если ключ не задан: защищенная часть admin API отвечает 503.
func operatorValidator(cfg *infra.Config, logger *zap.Logger) auth.TokenValidator {
	if len(cfg.Auth.PublicKey) == 0 {
		logger.Warn("auth public key is not configured, operator endpoints are disabled")
		return nil
	}
	key, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Error("invalid auth public key, operator endpoints are disabled", zap.Error(err))
		return nil
	}
	return auth.NewRSAValidator(key, auth.WithIssuer(cfg.Auth.Issuer), auth.WithAudience(cfg.Auth.Audience))
}
