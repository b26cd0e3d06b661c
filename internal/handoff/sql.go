package handoff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/crmlink/internal/model"
)

// Dialect はSQLStoreが発行するSQLの方言を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）向けの方言。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）向けの方言。
	DialectSQLite Dialect = "sqlite"
)

// schemaSQL はcredential_handoffsテーブルの定義。
// PostgreSQLではマイグレーションで同じ定義を適用する。
const schemaSQL = `CREATE TABLE IF NOT EXISTS credential_handoffs (
	handoff_key TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	expires_at  BIGINT NOT NULL
)`

// SQLStore はcredential_handoffsテーブルを使うStoreの実装。
// expires_atはUnixミリ秒で保持し、方言間で比較の意味を揃える。
// Takeは DELETE ... RETURNING の1文で行うため、
// 複数プロセスから同じキーを取り合っても成功するのは1つだけになる。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore はSQLStoreを生成する。
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
}

// EnsureSchema はテーブルが無ければ作成する。
// マイグレーションを使わないSQLite構成とテストで使用する。
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create credential_handoffs table: %w", err)
	}
	return nil
}

// Put は値をUPSERTで保存する。既存の値と有効期限は上書きされる。
func (s *SQLStore) Put(ctx context.Context, key string, bundle *model.CredentialBundle, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %v", ttl)
	}
	value, err := encodeBundle(bundle)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO credential_handoffs (handoff_key, value, expires_at)
		 VALUES (%s, %s, %s)
		 ON CONFLICT (handoff_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		s.bind(1), s.bind(2), s.bind(3),
	)
	expiresAt := s.now().Add(ttl).UnixMilli()
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to put credentials: %w", err)
	}
	return nil
}

// Take は行を削除しつつ値を返す。失効済みの行も削除したうえでErrNotFoundを返す。
func (s *SQLStore) Take(ctx context.Context, key string) (*model.CredentialBundle, error) {
	query := fmt.Sprintf(
		`DELETE FROM credential_handoffs WHERE handoff_key = %s RETURNING value, expires_at`,
		s.bind(1),
	)

	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take credentials: %w", err)
	}

	if s.now().UnixMilli() >= expiresAt {
		return nil, ErrNotFound
	}
	return decodeBundle(value)
}

// DeleteExpired は失効済みの行を削除し、削除件数を返す。
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM credential_handoffs WHERE expires_at <= %s`, s.bind(1))

	result, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired credentials: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return deleted, nil
}

// bind はn番目のプレースホルダを返す。
func (s *SQLStore) bind(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// compile-time interface check
var _ Store = (*SQLStore)(nil)
