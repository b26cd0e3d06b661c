package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmlink/internal/config"
	"github.com/hitoshi/crmlink/internal/database"
	"github.com/hitoshi/crmlink/internal/logger"
	"github.com/hitoshi/crmlink/internal/metrics"
	"github.com/hitoshi/crmlink/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("handoff_backend", cfg.HandoffBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandCleanup:
		return runCleanup(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ハンドオフストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ハンドオフストア
	backend, err := buildHandoffBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open handoff store: %w", err)
	}
	defer backend.close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービス
	svc, err := buildServices(cfg, backend.store, collector)
	if err != nil {
		return err
	}

	// 4. ルーター
	router, rateLimiter := buildRouter(cfg, svc, backend, reg)
	defer rateLimiter.Stop()

	// 5. 失効ハンドオフのクリーンアップをバックグラウンドで実行
	if backend.purger != nil {
		job := cleanup.NewCleanupJob(backend.purger, slog.Default(), collector)
		job.Interval = cfg.CleanupInterval
		go job.Start(ctx)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runCleanup は失効ハンドオフの削除ジョブだけを実行する。
// 複数のAPIサーバーが同じデータベースを共有する構成で、別プロセスとして動かす。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	if cfg.HandoffBackend != config.BackendPostgres && cfg.HandoffBackend != config.BackendSQLite {
		return fmt.Errorf("cleanup requires a SQL handoff backend, got %q", cfg.HandoffBackend)
	}

	backend, err := buildHandoffBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open handoff store: %w", err)
	}
	defer backend.close()

	reg := prometheus.NewRegistry()
	job := cleanup.NewCleanupJob(backend.purger, slog.Default(), metrics.NewCollector(reg))
	job.Interval = cfg.CleanupInterval

	slog.Info("cleanup worker starting",
		slog.Duration("interval", job.Interval),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx)

	slog.Info("cleanup worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.HandoffBackend {
	case config.BackendPostgres:
	case config.BackendSQLite:
		// SQLiteはテーブル作成のみ
		backend, err := buildHandoffBackend(ctx, cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("sqlite schema is ready")
		return backend.close()
	default:
		slog.Info("nothing to migrate",
			slog.String("handoff_backend", cfg.HandoffBackend),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
