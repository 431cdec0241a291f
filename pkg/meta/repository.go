package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"statevault/pkg/cursor"
	"statevault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 游标管理 (Cursors) —— 指针记录的数据库后端
// -----------------------------------------------------------------------------

// GetCursor 读取游标的当前值和乐观锁版本号
// found=false 表示从未写入过
func (r *Repository) GetCursor(ctx context.Context, name string) ([]byte, int64, bool, error) {
	var c Cursor
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&c).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return c.Value, c.Rev, true, nil
}

// SetCursor 原子更新游标 (CAS - Compare And Swap)
// oldRev: 你之前读到的版本号。如果数据库里现在的版本号不等于这个，说明有人抢先改了，更新失败。
func (r *Repository) SetCursor(ctx context.Context, name string, value []byte, oldRev int64) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 场景 A: 第一次创建 (Create)
		if oldRev == 0 {
			c := Cursor{
				Name:  name,
				Value: value,
				Rev:   1,
			}
			// 如果已经存在 (Name 冲突)，说明并发创建，按 CAS 失败处理
			if err := tx.Create(&c).Error; err != nil {
				// 兼容性: 处理不同数据库 (PG 与 SQLite) 的唯一约束错误
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return cursor.ErrStale
				}
				return fmt.Errorf("failed to create cursor: %w", err)
			}
			return nil
		}

		// 场景 B: 更新现有游标 (Update with CAS)
		// SQL: UPDATE cursors SET value = ?, rev = rev + 1 WHERE name = ? AND rev = ?
		result := tx.Model(&Cursor{}).
			Where("name = ? AND rev = ?", name, oldRev).
			Updates(map[string]any{
				"value":      value,
				"rev":        gorm.Expr("rev + 1"), // 版本号自增
				"updated_at": time.Now(),
			})

		if result.Error != nil {
			return result.Error
		}

		// 关键检查：如果影响行数为 0，说明 rev 不匹配（被人抢先改了）
		if result.RowsAffected == 0 {
			return cursor.ErrStale
		}

		return nil
	})
}

// CursorStore 把 Repository 适配成 cursor.Store 接口
type CursorStore struct {
	repo *Repository
}

func (r *Repository) Cursors() *CursorStore {
	return &CursorStore{repo: r}
}

func (s *CursorStore) Get(ctx context.Context, name string) ([]byte, int64, bool, error) {
	return s.repo.GetCursor(ctx, name)
}

func (s *CursorStore) Set(ctx context.Context, name string, value []byte, rev int64) error {
	return s.repo.SetCursor(ctx, name, value, rev)
}

// -----------------------------------------------------------------------------
// 2. 刷新历史 (Refresh History)
// -----------------------------------------------------------------------------

// LogRefresh 将一次成功发布“投影”到 SQL 数据库中
// 这样我们就可以用 SQL 回答“某个 Key 什么时候发布过哪些版本”
func (r *Repository) LogRefresh(ctx context.Context, key types.Key, version types.Version, meta map[string]any) error {
	var metaJSON datatypes.JSON
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal refresh meta: %w", err)
		}
		metaJSON = datatypes.JSON(raw)
	}

	model := RefreshLog{
		Key:       string(key),
		Version:   string(version),
		Timestamp: time.Now().Unix(),
		Meta:      metaJSON,
	}

	// 幂等写入：同一 (key, version) 重复发布时什么都不做 (Do Nothing)
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to log refresh: %w", err)
	}
	return nil
}

// FindRefreshesByKey 示例：利用 SQL 能力查询某个 Key 的发布历史
func (r *Repository) FindRefreshesByKey(ctx context.Context, key types.Key, limit int) ([]RefreshLog, error) {
	var logs []RefreshLog
	err := r.db.GetConn().WithContext(ctx).
		Where("key = ?", string(key)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
