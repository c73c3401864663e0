package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/permeo/internal/application"
	appanalysis "github.com/bryanwahyu/permeo/internal/application/analysis"
	"github.com/bryanwahyu/permeo/internal/infra/ai/openai"
	"github.com/bryanwahyu/permeo/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/permeo/internal/infra/httpserver"
	"github.com/bryanwahyu/permeo/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	if cfg.LLM.Disabled {
		log.Warn("llm features disabled by configuration")
	}
	provider := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens)
	opts := appanalysis.Options{
		Disabled:  cfg.LLM.Disabled,
		Uploads:   a.uploads,
		Generator: appanalysis.NewGenerator(provider, cfg.LLM.Timeout),
		Logger:    log,
		Metrics:   middleware.GenerationMetrics{},
	}
	analyses := sqlstore.NewAnalysisRepository(a.db, application.SystemClock{})

	handler := httpserver.NewRouter(httpserver.Deps{
		Uploads:           a.uploads,
		Recommendations:   appanalysis.NewRecommendationService(opts, analyses),
		RecommendedPolicy: appanalysis.NewRecommendedPolicyService(opts, analyses),
		AttackPath:        appanalysis.NewAttackPathService(opts, analyses),
		LLMDisabled:       cfg.LLM.Disabled,
		CORSOrigins:       cfg.Server.CORSOrigins,
		Health: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: a.db.DB},
		},
		Logger:       log,
		RequestLimit: cfg.Server.RequestTimeout,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}
	log.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", "error", err)
	}
	return nil
}
