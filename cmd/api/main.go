package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/permeo/internal/application"
	appuploads "github.com/bryanwahyu/permeo/internal/application/uploads"
	"github.com/bryanwahyu/permeo/internal/config"
	"github.com/bryanwahyu/permeo/internal/domain/iam"
	"github.com/bryanwahyu/permeo/internal/infra/db/sqlstore"
	minioStore "github.com/bryanwahyu/permeo/internal/infra/storage"
	"github.com/bryanwahyu/permeo/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "permeo",
	Short:         "IAM snapshot viewer API with LLM policy analysis",
	SilenceUsage:  true,
	SilenceErrors: true,
	// no subcommand means serve
	RunE: runServe,
}

func init() {
	def := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		def = v
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", def, "path to config.yaml")
	rootCmd.AddCommand(serveCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what both subcommands share.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *sqlstore.DB
	uploads *appuploads.Service
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Connect(ctx, dialect, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("%s connect error: %w", dialect, err)
	}
	log.Info("database ready", "driver", dialect, "dsn", cfg.DatabaseDSN())

	// a nil *Store inside the interface would not compare equal to nil
	var archive iam.ArchiveStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("minio init error: %w", err)
		}
		archive = store
		log.Info("snapshot archive enabled", "bucket", cfg.Minio.BucketName)
	}

	svc := appuploads.NewService(sqlstore.NewUploadRepository(db), archive, application.SystemClock{}, log)
	return &app{cfg: cfg, log: log, db: db, uploads: svc}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	a.log.Sync()
}
