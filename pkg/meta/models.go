package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Cursor 存储通用的小型 KV 游标 (指针记录整体就是其中一条)
type Cursor struct {
	// Name 是主键，例如 "__latest_state_info__"
	Name string `gorm:"primaryKey;type:varchar(255)"`

	// Value 是不透明的序列化字节
	Value []byte `gorm:"not null"`

	// Rev 用于乐观锁并发控制 (CAS)
	// 每次更新时 +1，防止并发覆盖
	Rev int64 `gorm:"default:1"`

	UpdatedAt time.Time
}

// RefreshLog 是每次成功发布的历史投影 (索引)
// 指针记录只保留“最新”，这张表回答“什么时候发布过什么”
type RefreshLog struct {
	ID uint `gorm:"primaryKey"`

	// 基础元数据 (B-Tree 索引，适合排序和精确查找)
	Key     string `gorm:"index:idx_refresh_key_version,unique;type:varchar(255);not null"`
	Version string `gorm:"index:idx_refresh_key_version,unique;type:varchar(255);not null"`

	// 使用 int64 存时间戳，方便范围查询
	Timestamp int64 `gorm:"index"`

	// Meta: 组件自述的刷新上下文 (耗时、来源、文件数等非结构化数据)
	Meta datatypes.JSON

	CreatedAt time.Time
}

// TableName 强制指定表名
func (RefreshLog) TableName() string {
	return "refresh_logs"
}
