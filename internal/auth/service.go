// Package auth はHubSpotのOAuth認可コードフローと、
// 取得した資格情報のハンドオフを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/crmlink/internal/handoff"
	"github.com/hitoshi/crmlink/internal/model"
)

const defaultProvider = "hubspot"

// OAuthProvider はOAuth認可プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthorizationURL はstateを含む認可URLを生成する。
	AuthorizationURL(state string) string
	// Exchange は認可コードを資格情報に交換する。
	Exchange(ctx context.Context, code string) (*model.CredentialBundle, error)
}

// StateCodec はstateパラメータのエンコード/デコードのインターフェース。
type StateCodec interface {
	Encode(state model.AuthState) string
	Decode(encoded string) (model.AuthState, error)
}

// MetricsRecorder は認証フローのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordCallback(result string)
	RecordTokenExchange(result string, duration time.Duration)
	RecordHandoff(op, result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCallback(string)                     {}
func (noopMetrics) RecordTokenExchange(string, time.Duration) {}
func (noopMetrics) RecordHandoff(string, string)              {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Provider      string        // ストアキーの名前空間（デフォルト: hubspot）
	CredentialTTL time.Duration // 資格情報の有効期間（デフォルト: 600秒）
}

// Service は認可URLの生成、コールバック処理、資格情報の受け渡しを行う。
type Service struct {
	oauth   OAuthProvider
	codec   StateCodec
	store   handoff.Store
	metrics MetricsRecorder
	config  ServiceConfig
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	oauth OAuthProvider,
	codec StateCodec,
	store handoff.Store,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	if config.Provider == "" {
		config.Provider = defaultProvider
	}
	if config.CredentialTTL <= 0 {
		config.CredentialTTL = handoff.DefaultTTL
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		oauth:   oauth,
		codec:   codec,
		store:   store,
		metrics: metrics,
		config:  config,
	}
}

// BuildAuthorizationURL はユーザーと組織をstateに埋め込んだ認可URLを生成する。
// 副作用はない。
func (s *Service) BuildAuthorizationURL(userID, orgID string) string {
	state := s.codec.Encode(model.AuthState{UserID: userID, OrgID: orgID})
	return s.oauth.AuthorizationURL(state)
}

// HandleCallback はプロバイダーからのリダイレクトを処理する。
// code/stateの検証はネットワーク呼び出しより前に行う。
// 交換した資格情報は(org_id, user_id)をキーにハンドオフストアへ書き込む。
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*model.AuthState, error) {
	// 1. パラメータ検証
	if code == "" {
		s.metrics.RecordCallback("missing_code")
		return nil, ErrMissingCode
	}
	if state == "" {
		s.metrics.RecordCallback("missing_state")
		return nil, ErrMissingState
	}

	authState, err := s.codec.Decode(state)
	if err != nil {
		s.metrics.RecordCallback("invalid_state")
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	// 2. 認可コードを資格情報に交換
	start := time.Now()
	bundle, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordTokenExchange("failure", time.Since(start))
		s.metrics.RecordCallback("exchange_failed")
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	s.metrics.RecordTokenExchange("success", time.Since(start))

	// 3. ハンドオフストアへ書き込み
	key := s.key(authState.OrgID, authState.UserID)
	if err := s.store.Put(ctx, key, bundle, s.config.CredentialTTL); err != nil {
		s.metrics.RecordHandoff("put", "error")
		s.metrics.RecordCallback("store_failed")
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}
	s.metrics.RecordHandoff("put", "success")
	s.metrics.RecordCallback("success")

	slog.Info("oauth callback completed",
		slog.String("provider", s.config.Provider),
		slog.String("user_id", authState.UserID),
		slog.String("org_id", authState.OrgID),
	)

	return &authState, nil
}

// GetCredentials はハンドオフストアから資格情報を取り出す。
// 取り出した資格情報はストアから削除される。
func (s *Service) GetCredentials(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error) {
	bundle, err := s.store.Take(ctx, s.key(orgID, userID))
	if errors.Is(err, handoff.ErrNotFound) {
		s.metrics.RecordHandoff("take", "not_found")
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		s.metrics.RecordHandoff("take", "error")
		return nil, fmt.Errorf("failed to take credentials: %w", err)
	}
	s.metrics.RecordHandoff("take", "success")
	return bundle, nil
}

func (s *Service) key(orgID, userID string) string {
	return handoff.Key(s.config.Provider, orgID, userID)
}
