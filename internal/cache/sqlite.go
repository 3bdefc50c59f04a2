package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tirds/internal/logger"
	"tirds/internal/types"

	_ "modernc.org/sqlite"
)

// CacheEntriesDDL 是 cache_entries 表结构；loader 与测试用同一份定义建表。
var CacheEntriesDDL = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		value_json TEXT NOT NULL,
		source TEXT NOT NULL,
		symbol TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cache_category ON cache_entries(category);`,
	`CREATE INDEX IF NOT EXISTS idx_cache_symbol ON cache_entries(symbol);`,
	`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);`,
}

var errMalformedRow = errors.New("malformed cache row")

const selectEntryColumns = `SELECT key, category, value_json, source, symbol, created_at, expires_at, updated_at FROM cache_entries`

// SQLiteStore 以只读方式访问 loader 维护的 SQLite 文件。
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite 以只读模式打开 path，并确认 cache_entries 可查询。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, unavailable("open sqlite", "", errors.New("sqlite path 不能为空"))
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite", path, err)
	}
	// WAL 下允许少量并发读
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping sqlite", path, err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='cache_entries'`).Scan(&n); err != nil {
		db.Close()
		return nil, unavailable("inspect sqlite", path, err)
	}
	if n == 0 {
		db.Close()
		return nil, unavailable("inspect sqlite", path, errors.New("cache_entries 表不存在"))
	}
	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// EnsureSchema 在 db 上创建 cache_entries（仅供写入方/测试使用）。
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range CacheEntriesDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get 读取单个 key；过期条目视为不存在。
func (s *SQLiteStore) Get(ctx context.Context, key string) (types.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectEntryColumns+` WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CacheEntry{}, false, nil
	}
	if errors.Is(err, errMalformedRow) {
		logger.Warnf("[cache] 忽略格式错误的条目 %s: %v", key, err)
		return types.CacheEntry{}, false, nil
	}
	if err != nil {
		return types.CacheEntry{}, false, unavailable("read", key, err)
	}
	if entry.Expired(s.now()) {
		return types.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// ListByPrefix 返回 key 以 prefix 开头的全部未过期条目。
func (s *SQLiteStore) ListByPrefix(ctx context.Context, prefix string) ([]types.CacheEntry, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx, selectEntryColumns+` WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escaped+"%")
	if err != nil {
		return nil, unavailable("list prefix", prefix, err)
	}
	return s.collect(rows, prefix)
}

// ListBySymbol 返回 symbol 列等于 symbol 的全部未过期条目。
func (s *SQLiteStore) ListBySymbol(ctx context.Context, symbol string) ([]types.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntryColumns+` WHERE symbol = ? ORDER BY key`, symbol)
	if err != nil {
		return nil, unavailable("list symbol", symbol, err)
	}
	return s.collect(rows, symbol)
}

func (s *SQLiteStore) collect(rows *sql.Rows, label string) ([]types.CacheEntry, error) {
	defer rows.Close()
	now := s.now()
	var out []types.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if errors.Is(err, errMalformedRow) {
			logger.Warnf("[cache] 忽略格式错误的条目 (%s): %v", label, err)
			continue
		}
		if err != nil {
			return nil, unavailable("scan", label, err)
		}
		if entry.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate", label, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (types.CacheEntry, error) {
	var (
		entry                           types.CacheEntry
		category, value                 string
		symbol                          sql.NullString
		createdAt, expiresAt, updatedAt string
	)
	if err := r.Scan(&entry.Key, &category, &value, &entry.Source, &symbol, &createdAt, &expiresAt, &updatedAt); err != nil {
		return types.CacheEntry{}, err
	}
	entry.Category = types.CacheCategory(category)
	entry.Value = []byte(value)
	entry.Symbol = symbol.String
	var err error
	if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return types.CacheEntry{}, fmt.Errorf("%w: %s created_at: %v", errMalformedRow, entry.Key, err)
	}
	if entry.ExpiresAt, err = parseTimestamp(expiresAt); err != nil {
		return types.CacheEntry{}, fmt.Errorf("%w: %s expires_at: %v", errMalformedRow, entry.Key, err)
	}
	if entry.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return types.CacheEntry{}, fmt.Errorf("%w: %s updated_at: %v", errMalformedRow, entry.Key, err)
	}
	return entry, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
}

// FormatTimestamp 以 RFC3339 (UTC) 格式化时间，与 loader 写入格式一致。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
