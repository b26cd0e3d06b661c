package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/crmlink/internal/model"
)

// RedisStore はRedisを使うStoreの実装。
// PutはSET EX、TakeはGETDELで行う。GETDELは単一コマンドのため、
// 複数プロセスから同じキーを取り合っても成功するのは1つだけになる。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Put は値をTTL付きで保存する。既存の値は上書きされる。
func (s *RedisStore) Put(ctx context.Context, key string, bundle *model.CredentialBundle, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %v", ttl)
	}
	value, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put credentials: %w", err)
	}
	return nil
}

// Take は値を取得して削除する。
func (s *RedisStore) Take(ctx context.Context, key string) (*model.CredentialBundle, error) {
	value, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take credentials: %w", err)
	}
	return decodeBundle(value)
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
