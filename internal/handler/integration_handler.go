// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/crmlink/internal/auth"
	"github.com/hitoshi/crmlink/internal/item"
	"github.com/hitoshi/crmlink/internal/middleware"
	"github.com/hitoshi/crmlink/internal/model"
)

// closeWindowHTML はコールバック完了時に返すページ。
// 資格情報はブラウザへ渡さない。
const closeWindowHTML = `<html>
    <script>
        window.close();
    </script>
</html>`

// IntegrationServiceInterface は連携ハンドラーが必要とする認証サービスのインターフェース。
type IntegrationServiceInterface interface {
	// BuildAuthorizationURL は認可URLを生成する。
	BuildAuthorizationURL(userID, orgID string) string
	// HandleCallback は認可コードを交換し、資格情報をハンドオフストアへ書き込む。
	HandleCallback(ctx context.Context, code, state string) (*model.AuthState, error)
	// GetCredentials は資格情報を一度だけ取り出す。
	GetCredentials(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error)
}

// ItemFetcherInterface はCRMレコード取得のインターフェース。
type ItemFetcherInterface interface {
	FetchItems(ctx context.Context, creds *model.CredentialBundle) (*item.FetchResult, error)
}

// IntegrationHandler はHubSpot連携のHTTPハンドラー。
type IntegrationHandler struct {
	service IntegrationServiceInterface
	fetcher ItemFetcherInterface
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(service IntegrationServiceInterface, fetcher ItemFetcherInterface) *IntegrationHandler {
	return &IntegrationHandler{
		service: service,
		fetcher: fetcher,
	}
}

// authorizeResponse は認可URL生成のレスポンス。
type authorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// Authorize は認可URLを返す。
// POST /integrations/hubspot/authorize (form: user_id, org_id)
func (h *IntegrationHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := readOwner(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{
		AuthorizationURL: h.service.BuildAuthorizationURL(userID, orgID),
	})
}

// Callback はプロバイダーからのリダイレクトを処理し、ウィンドウを閉じるHTMLを返す。
// GET /integrations/hubspot/oauth2callback?code=xxx&state=yyy
func (h *IntegrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if _, err := h.service.HandleCallback(r.Context(), query.Get("code"), query.Get("state")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(closeWindowHTML))
}

// Credentials はハンドオフストアから資格情報を取り出して返す。
// 取り出した資格情報は削除されるため、2回目の呼び出しは失敗する。
// POST /integrations/hubspot/credentials (form: user_id, org_id)
func (h *IntegrationHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := readOwner(w, r)
	if !ok {
		return
	}

	bundle, err := h.service.GetCredentials(r.Context(), userID, orgID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// Load は資格情報でCRMレコードを取得し、正規化したアイテムを返す。
// POST /integrations/hubspot/load (form: credentials)
func (h *IntegrationHandler) Load(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidCredentialsError("form could not be parsed"))
		return
	}

	raw := r.PostForm.Get("credentials")
	if raw == "" {
		middleware.WriteAPIError(w, model.NewMissingParameterError("credentials"))
		return
	}

	creds, err := model.ParseCredentialBundle(raw)
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidCredentialsError(err.Error()))
		return
	}

	result, err := h.fetcher.FetchItems(r.Context(), creds)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleServiceError はドメインエラーをHTTPレスポンスに変換する。
func (h *IntegrationHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var exchangeErr *auth.TokenExchangeError

	switch {
	case errors.Is(err, auth.ErrMissingCode):
		middleware.WriteAPIError(w, model.NewMissingParameterError("code"))
	case errors.Is(err, auth.ErrMissingState):
		middleware.WriteAPIError(w, model.NewMissingParameterError("state"))
	case errors.Is(err, auth.ErrInvalidState):
		middleware.WriteAPIError(w, model.NewInvalidStateError())
	case errors.As(err, &exchangeErr):
		slog.Warn("token exchange rejected",
			slog.Int("status", exchangeErr.StatusCode),
			slog.String("error_code", exchangeErr.ErrorCode),
			slog.Bool("error_in_success_response", exchangeErr.ErrorInSuccessResponse()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteAPIError(w,
			model.NewTokenExchangeFailedError(exchangeErr.StatusCode, exchangeErr.ErrorCode, exchangeErr.Body))
	case errors.Is(err, auth.ErrCredentialsNotFound):
		middleware.WriteAPIError(w, model.NewCredentialsNotFoundError())
	case errors.Is(err, model.ErrEmptyAccessToken):
		middleware.WriteAPIError(w, model.NewInvalidCredentialsError(err.Error()))
	default:
		slog.Error("integration request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// readOwner はフォームまたはクエリからuser_idとorg_idを読み取る。
// どちらかが欠けている場合はエラーレスポンスを書き込んでfalseを返す。
func readOwner(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteAPIError(w, model.NewMissingParameterError("user_id"))
		return "", "", false
	}

	userID := r.Form.Get("user_id")
	if userID == "" {
		middleware.WriteAPIError(w, model.NewMissingParameterError("user_id"))
		return "", "", false
	}
	orgID := r.Form.Get("org_id")
	if orgID == "" {
		middleware.WriteAPIError(w, model.NewMissingParameterError("org_id"))
		return "", "", false
	}

	return userID, orgID, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
