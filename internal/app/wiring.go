package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmlink/internal/auth"
	"github.com/hitoshi/crmlink/internal/config"
	"github.com/hitoshi/crmlink/internal/database"
	"github.com/hitoshi/crmlink/internal/handler"
	"github.com/hitoshi/crmlink/internal/handoff"
	"github.com/hitoshi/crmlink/internal/item"
	"github.com/hitoshi/crmlink/internal/metrics"
	"github.com/hitoshi/crmlink/internal/middleware"
	"github.com/hitoshi/crmlink/internal/oauthstate"
	"github.com/hitoshi/crmlink/internal/security"
	"github.com/hitoshi/crmlink/internal/worker/cleanup"
)

// compile-time interface check
var (
	_ auth.MetricsRecorder                = (*metrics.Collector)(nil)
	_ item.MetricsRecorder                = (*metrics.Collector)(nil)
	_ cleanup.PurgeRecorder               = (*metrics.Collector)(nil)
	_ cleanup.Purger                      = (*handoff.SQLStore)(nil)
	_ cleanup.Purger                      = (*handoff.MemoryStore)(nil)
	_ item.NameSanitizer                  = (*security.NameSanitizer)(nil)
	_ auth.StateCodec                     = (*oauthstate.Codec)(nil)
	_ handler.IntegrationServiceInterface = (*auth.Service)(nil)
	_ handler.ItemFetcherInterface        = (*item.Fetcher)(nil)
)

// handoffBackend はHANDOFF_BACKENDに応じて構築したストアと付随リソース。
type handoffBackend struct {
	store  handoff.Store
	purger cleanup.Purger        // 失効エントリの削除が必要なバックエンドのみ
	health handler.HealthChecker // nilの場合は疎通確認しない
	close  func() error
}

// buildHandoffBackend は設定されたバックエンドのハンドオフストアを構築する。
// postgresは起動時にマイグレーションを適用し、sqliteはテーブルを作成する。
func buildHandoffBackend(ctx context.Context, cfg *config.Config) (*handoffBackend, error) {
	switch cfg.HandoffBackend {
	case config.BackendMemory:
		store := handoff.NewMemoryStore()
		return &handoffBackend{
			store:  store,
			purger: store,
			close:  func() error { return nil },
		}, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return sqlBackend(db, handoff.NewSQLStore(db, handoff.DialectPostgres)), nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := handoff.NewSQLStore(db, handoff.DialectSQLite)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return sqlBackend(db, store), nil

	case config.BackendRedis:
		client, err := handoff.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		// 失効はRedisのTTLに任せるためpurgerは持たない
		return &handoffBackend{
			store: handoff.NewRedisStore(client),
			health: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported handoff backend: %q", cfg.HandoffBackend)
	}
}

func sqlBackend(db *sql.DB, store *handoff.SQLStore) *handoffBackend {
	return &handoffBackend{
		store:  store,
		purger: store,
		health: db.PingContext,
		close:  db.Close,
	}
}

// validateEndpoints は設定された外部エンドポイントを起動時に検証する。
func validateEndpoints(guard *security.EndpointGuard, cfg *config.Config) error {
	endpoints := map[string]string{
		"HUBSPOT_AUTH_URL":     cfg.HubSpotAuthURL,
		"HUBSPOT_TOKEN_URL":    cfg.HubSpotTokenURL,
		"HUBSPOT_API_BASE_URL": cfg.HubSpotAPIBaseURL,
		"HUBSPOT_APP_BASE_URL": cfg.HubSpotAppBaseURL,
	}
	for name, endpoint := range endpoints {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// services はHTTPルーターに渡すドメインサービス群。
type services struct {
	auth    *auth.Service
	fetcher *item.Fetcher
}

// buildServices はOAuthプロバイダー、認証サービス、アイテム取得をワイヤリングする。
func buildServices(cfg *config.Config, store handoff.Store, collector *metrics.Collector) (*services, error) {
	guard := security.NewEndpointGuard(cfg.SSRFGuard)
	if err := validateEndpoints(guard, cfg); err != nil {
		return nil, err
	}
	httpClient := guard.HTTPClient(cfg.ProviderTimeout)

	oauthProvider := auth.NewHubSpotOAuthProvider(auth.HubSpotOAuthConfig{
		ClientID:     cfg.HubSpotClientID,
		ClientSecret: cfg.HubSpotClientSecret,
		RedirectURL:  cfg.HubSpotRedirectURL,
		Scopes:       cfg.HubSpotScopes,
		AuthURL:      cfg.HubSpotAuthURL,
		TokenURL:     cfg.HubSpotTokenURL,
		HTTPClient:   httpClient,
		Timeout:      cfg.ProviderTimeout,
	})

	codec := oauthstate.NewCodec(cfg.StateSigningSecret)
	if !codec.Signed() {
		slog.Warn("STATE_SIGNING_SECRET is not set; oauth state is not signed")
	}

	authService := auth.NewService(
		oauthProvider,
		codec,
		handoff.WithTimeout(store, cfg.StoreTimeout),
		collector,
		auth.ServiceConfig{CredentialTTL: cfg.CredentialTTL},
	)

	// 表示名は既定ではプロバイダーの値をそのまま返す
	var sanitizer item.NameSanitizer
	if cfg.SanitizeNames {
		sanitizer = security.NewNameSanitizer()
	}
	normalizer := item.NewNormalizer(cfg.HubSpotAppBaseURL, sanitizer, item.NoopMetadataBuilder{})
	fetcher := item.NewFetcher(httpClient, normalizer, collector, slog.Default(), item.FetcherConfig{
		APIBaseURL: cfg.HubSpotAPIBaseURL,
		AppBaseURL: cfg.HubSpotAppBaseURL,
		PageSize:   cfg.FetchPageSize,
		Timeout:    cfg.ProviderTimeout,
	})

	return &services{auth: authService, fetcher: fetcher}, nil
}

// buildRouter はサービス群とミドルウェアからHTTPハンドラーを構成する。
// 返されたRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, svc *services, backend *handoffBackend, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter) {
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute),
		middleware.RemoteAddrKey,
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		RateLimiter:        rateLimiter,
		HealthChecker:      backend.health,
		MetricsHandler:     metrics.SetupMetricsRoute(reg),
		IntegrationService: svc.auth,
		ItemFetcher:        svc.fetcher,
	})

	return router, rateLimiter
}
