package item

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// FailureKind は種別ごとの取得失敗の分類。
// ホストアプリケーションは再認可が必要か、時間をおけばよいかをこれで判断する。
type FailureKind string

const (
	// FailureUnauthorized はトークンの失効やスコープ不足（401/403）。再認可が必要。
	FailureUnauthorized FailureKind = "unauthorized"
	// FailureNotFound はオブジェクト種別が存在しない（404/410）。
	FailureNotFound FailureKind = "not_found"
	// FailureRateLimited はプロバイダーのレート制限（429）。
	FailureRateLimited FailureKind = "rate_limited"
	// FailureProviderError はプロバイダー側の障害（5xx）。
	FailureProviderError FailureKind = "provider_error"
	// FailureUnexpectedStatus は上記以外の非2xxステータス。
	FailureUnexpectedStatus FailureKind = "unexpected_status"
	// FailureTimeout は上限時間内に応答が無かった。
	FailureTimeout FailureKind = "timeout"
	// FailureTransport は接続やTLSなどの通信エラー。
	FailureTransport FailureKind = "transport"
	// FailureDecode はレスポンスボディを解釈できなかった。
	FailureDecode FailureKind = "decode"
)

// ClassifyHTTPStatus は非2xxのHTTPステータスコードを失敗分類に変換する。
func ClassifyHTTPStatus(statusCode int) FailureKind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FailureUnauthorized
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FailureNotFound
	case statusCode == http.StatusTooManyRequests:
		return FailureRateLimited
	case statusCode >= 500:
		return FailureProviderError
	default:
		return FailureUnexpectedStatus
	}
}

// classifyTransportError は通信エラーをタイムアウトとそれ以外に分ける。
func classifyTransportError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}
