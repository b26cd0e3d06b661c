package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/crmlink/internal/model"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore はプロセス内メモリを使うStoreの実装。
// 単一プロセス構成と開発用途を想定する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put は値を保存する。既存の値は上書きされる。
func (s *MemoryStore) Put(ctx context.Context, key string, bundle *model.CredentialBundle, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %v", ttl)
	}
	value, err := encodeBundle(bundle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Take は値を取得して削除する。取得と削除は同一ロック内で行う。
func (s *MemoryStore) Take(ctx context.Context, key string) (*model.CredentialBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return decodeBundle(entry.value)
}

// DeleteExpired は失効済みのエントリを削除し、削除件数を返す。
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.now()
	var deleted int64

	s.mu.Lock()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			deleted++
		}
	}
	s.mu.Unlock()

	return deleted, nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
