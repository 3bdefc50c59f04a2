package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tirds/internal/cache"
	storemodel "tirds/internal/store/model"
	"tirds/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type cacheEntryModel = storemodel.CacheEntryModel

// CacheWriter 以 loader 的方式写 cache_entries，供 seed 命令与测试使用。
// 评估路径只读，不会用到它。
type CacheWriter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	ownsDB bool
	now    func() time.Time
}

// OpenCacheWriter 打开（必要时创建）path 处的 SQLite 文件并确保表结构存在。
func OpenCacheWriter(ctx context.Context, path string) (*CacheWriter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: cache 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	w, err := newCacheWriter(ctx, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	w.ownsDB = true
	return w, nil
}

// NewCacheWriterFromDB 复用外部 *sql.DB（调用方负责关闭）。
func NewCacheWriterFromDB(ctx context.Context, sqlDB *sql.DB) (*CacheWriter, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("gorm store: external db 不能为空")
	}
	return newCacheWriter(ctx, sqlDB)
}

func newCacheWriter(ctx context.Context, sqlDB *sql.DB) (*CacheWriter, error) {
	if err := cache.EnsureSchema(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("gorm store: ensure schema: %w", err)
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &CacheWriter{db: db, sqlDB: sqlDB, now: time.Now}, nil
}

// Close 关闭自己打开的连接。
func (w *CacheWriter) Close() error {
	if w == nil || w.sqlDB == nil || !w.ownsDB {
		return nil
	}
	return w.sqlDB.Close()
}

// Upsert 按 key 覆盖写入（INSERT OR REPLACE 语义）。
func (w *CacheWriter) Upsert(ctx context.Context, entries ...types.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]cacheEntryModel, 0, len(entries))
	now := w.now()
	for _, e := range entries {
		row, err := toModel(e, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return w.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
}

// DeleteExpired 清理 expires_at 已过的条目，返回删除行数。
func (w *CacheWriter) DeleteExpired(ctx context.Context) (int64, error) {
	var rows []cacheEntryModel
	if err := w.db.WithContext(ctx).Select("key", "expires_at").Find(&rows).Error; err != nil {
		return 0, err
	}
	now := w.now()
	var expired []string
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.ExpiresAt)
		if err != nil || !now.Before(ts) {
			expired = append(expired, r.Key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	res := w.db.WithContext(ctx).Where("key IN ?", expired).Delete(&cacheEntryModel{})
	return res.RowsAffected, res.Error
}

// Count 返回表中全部行数（含过期行）。
func (w *CacheWriter) Count(ctx context.Context) (int64, error) {
	var n int64
	err := w.db.WithContext(ctx).Model(&cacheEntryModel{}).Count(&n).Error
	return n, err
}

func toModel(e types.CacheEntry, now time.Time) (cacheEntryModel, error) {
	key := strings.TrimSpace(e.Key)
	if key == "" {
		return cacheEntryModel{}, fmt.Errorf("cache entry key 不能为空")
	}
	category := e.Category
	if category == "" {
		if inferred, ok := types.CategoryForKey(key); ok {
			category = inferred
		}
	}
	if !category.Valid() {
		return cacheEntryModel{}, fmt.Errorf("cache entry %s category 非法: %q", key, category)
	}
	if !json.Valid(e.Value) {
		return cacheEntryModel{}, fmt.Errorf("cache entry %s value_json 不是合法 JSON", key)
	}
	if e.ExpiresAt.IsZero() {
		return cacheEntryModel{}, fmt.Errorf("cache entry %s 缺少 expires_at", key)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	row := cacheEntryModel{
		Key:       key,
		Category:  string(category),
		ValueJSON: datatypes.JSON(e.Value),
		Source:    e.Source,
		CreatedAt: cache.FormatTimestamp(created),
		ExpiresAt: cache.FormatTimestamp(e.ExpiresAt),
		UpdatedAt: cache.FormatTimestamp(updated),
	}
	if sym := strings.TrimSpace(e.Symbol); sym != "" {
		row.Symbol = &sym
	}
	return row, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
