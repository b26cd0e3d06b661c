package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingParameter    = "MISSING_PARAMETER"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeCredentialsNotFound = "CREDENTIALS_NOT_FOUND"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewMissingParameterError は必須パラメータ欠落エラーを生成する。
func NewMissingParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParameter,
		Message:  fmt.Sprintf("必須パラメータがありません: %s", name),
		Category: "validation",
		Action:   "連携をやり直してください。",
	}
}

// NewInvalidStateError はstateパラメータが解釈できない場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "stateパラメータが無効です。",
		Category: "auth",
		Action:   "連携をやり直してください。",
	}
}

// NewTokenExchangeFailedError はトークン交換失敗エラーを生成する。
// プロバイダーのレスポンスボディは診断用にメッセージへ含める。
// errorCodeはレスポンスのOAuth errorフィールドで、2xxでも拒否された場合の判別に使う。
func NewTokenExchangeFailedError(status int, errorCode, body string) *APIError {
	detail := fmt.Sprintf("status=%d", status)
	if errorCode != "" {
		detail += ", error=" + errorCode
	}
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  fmt.Sprintf("アクセストークンの取得に失敗しました (%s): %s", detail, body),
		Category: "provider",
		Action:   "しばらく待ってから再度連携してください。",
	}
}

// NewCredentialsNotFoundError は資格情報が見つからない場合のエラーを生成する。
func NewCredentialsNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialsNotFound,
		Message:  "資格情報が見つかりません。",
		Category: "auth",
		Action:   "期限切れまたは取得済みの可能性があります。連携をやり直してください。",
	}
}

// NewInvalidCredentialsError は資格情報の形式が不正な場合のエラーを生成する。
func NewInvalidCredentialsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  fmt.Sprintf("資格情報が不正です: %s", reason),
		Category: "validation",
		Action:   "連携をやり直して新しい資格情報を取得してください。",
	}
}
