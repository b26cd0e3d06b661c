// Package handoff はOAuthコールバックから資格情報の利用者へ
// 資格情報を一度だけ受け渡すための短命なストアを提供する。
//
// 永続的なデータストアではない。書き込まれた値はTTL経過で失効し、
// 最初のTakeで削除される。
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/crmlink/internal/model"
)

// DefaultTTL は資格情報が読み出されずに失効するまでの時間。
const DefaultTTL = 600 * time.Second

// ErrNotFound は値が存在しないことを表す。
// 未書き込み、TTL失効、取得済みのいずれも区別しない。
var ErrNotFound = errors.New("credentials not found")

// Store は資格情報ハンドオフの契約。
type Store interface {
	// Put は値を上書きで保存する。マージはしない。
	Put(ctx context.Context, key string, bundle *model.CredentialBundle, ttl time.Duration) error

	// Take は値を取得すると同時に削除する。
	// 同一キーへの並行Takeのうち成功するのは高々1つ。
	// 値が無い場合はErrNotFoundを返す。
	Take(ctx context.Context, key string) (*model.CredentialBundle, error)
}

// Key はプロバイダーとユーザー・組織からストアのキーを組み立てる。
func Key(provider, orgID, userID string) string {
	return fmt.Sprintf("%s_credentials:%s:%s", provider, orgID, userID)
}

func encodeBundle(bundle *model.CredentialBundle) (string, error) {
	if bundle == nil {
		return "", fmt.Errorf("credential bundle is nil")
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential bundle: %w", err)
	}
	return string(raw), nil
}

func decodeBundle(raw string) (*model.CredentialBundle, error) {
	var bundle model.CredentialBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode credential bundle: %w", err)
	}
	return &bundle, nil
}

// timeoutStore は全ての操作に上限時間を設けるStoreのデコレータ。
type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout は各操作をtimeoutで打ち切るStoreを返す。
// timeoutが0以下の場合はnextをそのまま返す。
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) Put(ctx context.Context, key string, bundle *model.CredentialBundle, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Put(ctx, key, bundle, ttl)
}

func (s *timeoutStore) Take(ctx context.Context, key string) (*model.CredentialBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Take(ctx, key)
}
