package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/crmlink/internal/auth"
	"github.com/hitoshi/crmlink/internal/item"
	"github.com/hitoshi/crmlink/internal/middleware"
	"github.com/hitoshi/crmlink/internal/model"
)

// --- モック ---

type mockIntegrationService struct {
	buildAuthorizationURLFn func(userID, orgID string) string
	handleCallbackFn        func(ctx context.Context, code, state string) (*model.AuthState, error)
	getCredentialsFn        func(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error)
}

func (m *mockIntegrationService) BuildAuthorizationURL(userID, orgID string) string {
	if m.buildAuthorizationURLFn != nil {
		return m.buildAuthorizationURLFn(userID, orgID)
	}
	return ""
}

func (m *mockIntegrationService) HandleCallback(ctx context.Context, code, state string) (*model.AuthState, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, state)
	}
	return &model.AuthState{}, nil
}

func (m *mockIntegrationService) GetCredentials(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error) {
	if m.getCredentialsFn != nil {
		return m.getCredentialsFn(ctx, userID, orgID)
	}
	return nil, auth.ErrCredentialsNotFound
}

type mockItemFetcher struct {
	fetchItemsFn func(ctx context.Context, creds *model.CredentialBundle) (*item.FetchResult, error)
	calls        int
}

func (m *mockItemFetcher) FetchItems(ctx context.Context, creds *model.CredentialBundle) (*item.FetchResult, error) {
	m.calls++
	if m.fetchItemsFn != nil {
		return m.fetchItemsFn(ctx, creds)
	}
	return &item.FetchResult{Items: []model.IntegrationItem{}, Failures: []item.EntityFailure{}}, nil
}

func newTestRouter(svc IntegrationServiceInterface, fetcher ItemFetcherInterface) http.Handler {
	return NewRouter(&RouterDeps{
		CORSAllowedOrigin:  "http://localhost:3000",
		IntegrationService: svc,
		ItemFetcher:        fetcher,
	})
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// --- Authorize ---

func TestAuthorize_ReturnsAuthorizationURL(t *testing.T) {
	var gotUser, gotOrg string
	svc := &mockIntegrationService{
		buildAuthorizationURLFn: func(userID, orgID string) string {
			gotUser, gotOrg = userID, orgID
			return "https://app.hubspot.com/oauth/authorize?state=abc"
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	req := postForm("/integrations/hubspot/authorize", url.Values{"user_id": {"u1"}, "org_id": {"o1"}})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "u1" || gotOrg != "o1" {
		t.Errorf("BuildAuthorizationURL called with (%q, %q), want (u1, o1)", gotUser, gotOrg)
	}

	var resp authorizeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AuthorizationURL != "https://app.hubspot.com/oauth/authorize?state=abc" {
		t.Errorf("authorization_url = %q", resp.AuthorizationURL)
	}
}

func TestAuthorize_AcceptsQueryParameters(t *testing.T) {
	svc := &mockIntegrationService{
		buildAuthorizationURLFn: func(userID, orgID string) string {
			return "https://example.com/" + userID + "/" + orgID
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/authorize?user_id=u2&org_id=o2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "https://example.com/u2/o2") {
		t.Errorf("body = %s, want authorization url for u2/o2", w.Body.String())
	}
}

func TestAuthorize_MissingOwner(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		want   string
	}{
		{"user_idなし", url.Values{"org_id": {"o1"}}, "user_id"},
		{"org_idなし", url.Values{"user_id": {"u1"}}, "org_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, postForm("/integrations/hubspot/authorize", tt.values))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			body := decodeError(t, w)
			if body.Code != model.ErrCodeMissingParameter {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingParameter)
			}
			if !strings.Contains(body.Message, tt.want) {
				t.Errorf("message = %q, want to mention %q", body.Message, tt.want)
			}
		})
	}
}

// --- Callback ---

func TestCallback_Success_ReturnsCloseWindowHTML(t *testing.T) {
	var gotCode, gotState string
	svc := &mockIntegrationService{
		handleCallbackFn: func(ctx context.Context, code, state string) (*model.AuthState, error) {
			gotCode, gotState = code, state
			return &model.AuthState{UserID: "u1", OrgID: "o1"}, nil
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/oauth2callback?code=c-1&state=s-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotCode != "c-1" || gotState != "s-1" {
		t.Errorf("HandleCallback called with (%q, %q), want (c-1, s-1)", gotCode, gotState)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "window.close()") {
		t.Errorf("body = %q, want window.close()", w.Body.String())
	}
}

func TestCallback_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"code欠落", auth.ErrMissingCode, http.StatusBadRequest, model.ErrCodeMissingParameter},
		{"state欠落", auth.ErrMissingState, http.StatusBadRequest, model.ErrCodeMissingParameter},
		{"state不正", fmt.Errorf("failed to decode state: %w", auth.ErrInvalidState), http.StatusBadRequest, model.ErrCodeInvalidState},
		{
			"トークン交換失敗",
			fmt.Errorf("failed to exchange authorization code: %w", &auth.TokenExchangeError{StatusCode: 400, Body: `{"status":"BAD_AUTH_CODE"}`}),
			http.StatusBadRequest,
			model.ErrCodeTokenExchangeFailed,
		},
		{"ストア障害", errors.New("failed to store credentials: connection refused"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockIntegrationService{
				handleCallbackFn: func(ctx context.Context, code, state string) (*model.AuthState, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(svc, &mockItemFetcher{})

			req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/oauth2callback?code=c&state=s", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestCallback_TokenExchangeFailure_IncludesProviderBody(t *testing.T) {
	svc := &mockIntegrationService{
		handleCallbackFn: func(ctx context.Context, code, state string) (*model.AuthState, error) {
			return nil, &auth.TokenExchangeError{StatusCode: 401, Body: "invalid client"}
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/oauth2callback?code=c&state=s", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := decodeError(t, w)
	if !strings.Contains(body.Message, "401") || !strings.Contains(body.Message, "invalid client") {
		t.Errorf("message = %q, want status and provider body", body.Message)
	}
}

func TestCallback_ErrorFieldInSuccessResponse_NamesErrorCode(t *testing.T) {
	svc := &mockIntegrationService{
		handleCallbackFn: func(ctx context.Context, code, state string) (*model.AuthState, error) {
			return nil, &auth.TokenExchangeError{StatusCode: 200, ErrorCode: "invalid_grant", Body: `{"error":"invalid_grant"}`}
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/oauth2callback?code=c&state=s", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeError(t, w)
	if body.Code != model.ErrCodeTokenExchangeFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenExchangeFailed)
	}
	if !strings.Contains(body.Message, "error=invalid_grant") {
		t.Errorf("message = %q, want the provider error code", body.Message)
	}
}

// --- Credentials ---

func TestCredentials_ReturnsBundle(t *testing.T) {
	svc := &mockIntegrationService{
		getCredentialsFn: func(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error) {
			if userID != "u1" || orgID != "o1" {
				t.Errorf("GetCredentials called with (%q, %q)", userID, orgID)
			}
			return &model.CredentialBundle{AccessToken: "at", RefreshToken: "rt", TokenType: "bearer", ExpiresIn: 1800}, nil
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/credentials", url.Values{"user_id": {"u1"}, "org_id": {"o1"}}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	var got model.CredentialBundle
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.AccessToken != "at" || got.RefreshToken != "rt" || got.ExpiresIn != 1800 {
		t.Errorf("bundle = %+v", got)
	}
}

func TestCredentials_NotFound(t *testing.T) {
	router := newTestRouter(&mockIntegrationService{}, &mockItemFetcher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/credentials", url.Values{"user_id": {"u1"}, "org_id": {"o1"}}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeCredentialsNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCredentialsNotFound)
	}
}

func TestCredentials_StoreFailure_IsInternalError(t *testing.T) {
	svc := &mockIntegrationService{
		getCredentialsFn: func(ctx context.Context, userID, orgID string) (*model.CredentialBundle, error) {
			return nil, errors.New("failed to take credentials: i/o timeout")
		},
	}
	router := newTestRouter(svc, &mockItemFetcher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/credentials", url.Values{"user_id": {"u1"}, "org_id": {"o1"}}))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "i/o timeout") {
		t.Error("internal error details should not be exposed")
	}
}

// --- Load ---

func TestLoad_ReturnsItemsAndFailures(t *testing.T) {
	fetcher := &mockItemFetcher{
		fetchItemsFn: func(ctx context.Context, creds *model.CredentialBundle) (*item.FetchResult, error) {
			if creds.AccessToken != "at" {
				t.Errorf("AccessToken = %q, want at", creds.AccessToken)
			}
			return &item.FetchResult{
				Items: []model.IntegrationItem{
					{ID: "contact_1", Name: "Ada Lovelace", Type: model.ItemTypeContact, Visibility: true},
				},
				Failures: []item.EntityFailure{
					{Type: model.ItemTypeDeal, Reason: "unexpected status code", StatusCode: 403},
				},
			}, nil
		},
	}
	router := newTestRouter(&mockIntegrationService{}, fetcher)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/load", url.Values{"credentials": {`{"access_token":"at"}`}}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var got item.FetchResult
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ID != "contact_1" {
		t.Errorf("items = %+v", got.Items)
	}
	if len(got.Failures) != 1 || got.Failures[0].StatusCode != 403 {
		t.Errorf("failures = %+v", got.Failures)
	}
}

func TestLoad_InvalidCredentials_DoesNotFetch(t *testing.T) {
	tests := []struct {
		name     string
		values   url.Values
		wantCode string
	}{
		{"credentialsなし", url.Values{}, model.ErrCodeMissingParameter},
		{"JSONでない", url.Values{"credentials": {"not-json"}}, model.ErrCodeInvalidCredentials},
		{"access_tokenなし", url.Values{"credentials": {`{"refresh_token":"rt"}`}}, model.ErrCodeInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &mockItemFetcher{}
			router := newTestRouter(&mockIntegrationService{}, fetcher)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, postForm("/integrations/hubspot/load", tt.values))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if fetcher.calls != 0 {
				t.Errorf("FetchItems called %d times, want 0", fetcher.calls)
			}
		})
	}
}

func TestLoad_FetcherError_IsInternalError(t *testing.T) {
	fetcher := &mockItemFetcher{
		fetchItemsFn: func(ctx context.Context, creds *model.CredentialBundle) (*item.FetchResult, error) {
			return nil, errors.New("unexpected")
		},
	}
	router := newTestRouter(&mockIntegrationService{}, fetcher)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/integrations/hubspot/load", url.Values{"credentials": {`{"access_token":"at"}`}}))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
