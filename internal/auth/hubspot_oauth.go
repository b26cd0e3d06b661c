package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/crmlink/internal/model"
)

const (
	defaultHubSpotAuthURL  = "https://app.hubspot.com/oauth/authorize"
	defaultHubSpotTokenURL = "https://api.hubapi.com/oauth/v1/token"
	defaultExchangeTimeout = 10 * time.Second

	// maxTokenResponseSize はトークンレスポンスとして読み込む上限。x/oauth2と同じ1MB。
	maxTokenResponseSize = 1 << 20
)

// DefaultHubSpotScopes は認可時に要求するスコープ。
var DefaultHubSpotScopes = []string{
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.objects.companies.read",
	"crm.objects.deals.read",
}

// HubSpotOAuthConfig はHubSpot OAuthプロバイダーの設定。
type HubSpotOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// HTTPClient はトークンエンドポイントへのリクエストに使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
	// Timeout はトークン交換1回あたりの上限時間。
	Timeout time.Duration
}

// HubSpotOAuthProvider はHubSpotの認可コードフローを提供する。
type HubSpotOAuthProvider struct {
	oauth      oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewHubSpotOAuthProvider はHubSpotOAuthProviderを生成する。
func NewHubSpotOAuthProvider(config HubSpotOAuthConfig) *HubSpotOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultHubSpotAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultHubSpotTokenURL
	}
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultHubSpotScopes
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultExchangeTimeout
	}

	return &HubSpotOAuthProvider{
		oauth: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
				// HubSpotはclient_id/client_secretをフォームボディで受け取る
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: config.HTTPClient,
		timeout:    config.Timeout,
	}
}

// AuthorizationURL はHubSpotの認可URLを生成する。
// client_id, スペース区切りのscope, redirect_uri, response_type=code, stateを含む。
func (p *HubSpotOAuthProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange は認可コードを資格情報に交換する。
// トークンエンドポイントが非成功ステータスを返した場合は*TokenExchangeErrorを返す。
// タイムアウトは通信失敗として扱い、リトライはしない。
// レスポンスのうちx/oauth2が解釈しないフィールドもCredentialBundle.Extraに残す。
func (p *HubSpotOAuthProvider) Exchange(ctx context.Context, code string) (*model.CredentialBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	capture := &bodyCapture{}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, capture.wrap(p.httpClient))

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &TokenExchangeError{
				StatusCode: retrieveErr.Response.StatusCode,
				ErrorCode:  retrieveErr.ErrorCode,
				Body:       string(retrieveErr.Body),
			}
		}
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	bundle := &model.CredentialBundle{}
	if err := json.Unmarshal(capture.body, bundle); err != nil {
		// JSON以外（フォームエンコード）のレスポンスは既知フィールドのみ
		bundle = &model.CredentialBundle{}
	}
	bundle.AccessToken = token.AccessToken
	bundle.RefreshToken = token.RefreshToken
	bundle.TokenType = token.TokenType
	bundle.ExpiresIn = token.ExpiresIn
	return bundle, nil
}

// bodyCapture はトークンエンドポイントのレスポンスボディを記録する。
type bodyCapture struct {
	base http.RoundTripper
	body []byte
}

// wrap はclientの通信をbodyCapture経由にしたコピーを返す。
// clientのTransport（SSRF対策のDialer等）はそのまま使う。
func (c *bodyCapture) wrap(client *http.Client) *http.Client {
	wrapped := *client
	c.base = client.Transport
	if c.base == nil {
		c.base = http.DefaultTransport
	}
	wrapped.Transport = c
	return &wrapped
}

// RoundTrip はhttp.RoundTripperを実装する。
func (c *bodyCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	c.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// compile-time interface check
var _ OAuthProvider = (*HubSpotOAuthProvider)(nil)
