package model

import "gorm.io/datatypes"

// CacheEntryModel maps to 'cache_entries' table；时间列按 RFC3339 文本存储。
type CacheEntryModel struct {
	Key       string         `gorm:"column:key;primaryKey"`
	Category  string         `gorm:"column:category"`
	ValueJSON datatypes.JSON `gorm:"column:value_json;type:TEXT"`
	Source    string         `gorm:"column:source"`
	Symbol    *string        `gorm:"column:symbol"`
	CreatedAt string         `gorm:"column:created_at"`
	ExpiresAt string         `gorm:"column:expires_at"`
	UpdatedAt string         `gorm:"column:updated_at"`
}

func (CacheEntryModel) TableName() string { return "cache_entries" }
