package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/crmlink/internal/handoff"
	"github.com/hitoshi/crmlink/internal/oauthstate"
)

var (
	// ErrMissingParameter はコールバックに必須パラメータが無いことを表す。
	ErrMissingParameter = errors.New("missing parameter")

	// ErrMissingCode は認可コードが無いことを表す。
	ErrMissingCode = fmt.Errorf("%w: code", ErrMissingParameter)

	// ErrMissingState はstateが無いことを表す。
	ErrMissingState = fmt.Errorf("%w: state", ErrMissingParameter)

	// ErrInvalidState はstateを解釈できないことを表す。
	ErrInvalidState = oauthstate.ErrInvalidState

	// ErrCredentialsNotFound はハンドオフストアに資格情報が無いことを表す。
	ErrCredentialsNotFound = handoff.ErrNotFound
)

// TokenExchangeError はトークンエンドポイントが交換を拒否したことを表す。
// 非成功ステータスのほか、2xxでもOAuthのerrorフィールドを含む場合に返る。
// Bodyは診断用にそのまま保持する。
type TokenExchangeError struct {
	StatusCode int
	// ErrorCode はレスポンスのerrorフィールド。無ければ空。
	ErrorCode  string
	Body       string
}

// ErrorInSuccessResponse は2xxレスポンスにerrorフィールドが含まれていたかを返す。
func (e *TokenExchangeError) ErrorInSuccessResponse() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300 && e.ErrorCode != ""
}

// Error はerrorインターフェースを実装する。
func (e *TokenExchangeError) Error() string {
	if e.ErrorInSuccessResponse() {
		return fmt.Sprintf("token endpoint returned error %q in a %d response: %s", e.ErrorCode, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}
