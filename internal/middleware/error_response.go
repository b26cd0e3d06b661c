package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/crmlink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。
// 連携フローの失敗はホストアプリが再連携を促せるよう、すべて400で返す。
var statusByCode = map[string]int{
	model.ErrCodeMissingParameter:    http.StatusBadRequest,
	model.ErrCodeInvalidState:        http.StatusBadRequest,
	model.ErrCodeTokenExchangeFailed: http.StatusBadRequest,
	model.ErrCodeCredentialsNotFound: http.StatusBadRequest,
	model.ErrCodeInvalidCredentials:  http.StatusBadRequest,
	model.ErrCodeInternal:            http.StatusInternalServerError,
}

// StatusForAPIError はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500。
func StatusForAPIError(apiErr *model.APIError) int {
	if apiErr == nil {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードから決まるステータスでエラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
