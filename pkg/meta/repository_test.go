package meta

import (
	"context"
	"fmt"
	"testing"

	"statevault/pkg/cursor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRepo 搭建基于内存 SQLite 的测试环境
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	return setupTestRepoWithConfig(t, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 测试时静默日志
	})
}

func setupTestRepoWithConfig(t *testing.T, cfg *gorm.Config) *Repository {
	t.Helper()

	// 每个测试用独立的内存实例，cache=shared 确保连接池共享同一个实例
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)

	// 自动迁移表结构
	require.NoError(t, db.AutoMigrate(&Cursor{}, &RefreshLog{}))

	return NewRepository(NewWithConn(db))
}

func TestCursor_Lifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 1. 初始状态应该是 absent
	_, _, found, err := repo.GetCursor(ctx, "__latest_state_info__")
	require.NoError(t, err)
	assert.False(t, found, "空表应该返回 absent")

	// 2. 第一次创建 (oldRev 传 0)
	require.NoError(t, repo.SetCursor(ctx, "__latest_state_info__", []byte("payload-1"), 0))

	// 3. 验证读取
	val, rev, found, err := repo.GetCursor(ctx, "__latest_state_info__")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload-1"), val)
	assert.Equal(t, int64(1), rev, "第一次版本号应该是 1")

	// 4. 正常更新 (基于 rev 1)
	require.NoError(t, repo.SetCursor(ctx, "__latest_state_info__", []byte("payload-2"), 1))

	val, rev, _, err = repo.GetCursor(ctx, "__latest_state_info__")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-2"), val)
	assert.Equal(t, int64(2), rev, "版本号应该递增为 2")
}

func TestCursor_OptimisticLocking(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 初始化到 rev 1
	require.NoError(t, repo.SetCursor(ctx, "head", []byte("base"), 0))

	_, rev, _, err := repo.GetCursor(ctx, "head")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	// 模拟并发场景：
	// 写入方 A 和 B 都读到了 rev=1，B 抢先写成功
	require.NoError(t, repo.SetCursor(ctx, "head", []byte("from_B"), rev))

	// A 姗姗来迟，拿着过期的 rev=1 试图更新
	err = repo.SetCursor(ctx, "head", []byte("from_A"), rev)
	assert.ErrorIs(t, err, cursor.ErrStale, "使用过期的 rev 更新应该被拒绝")

	// 确保数据没有被覆盖
	val, rev, _, err := repo.GetCursor(ctx, "head")
	require.NoError(t, err)
	assert.Equal(t, []byte("from_B"), val)
	assert.Equal(t, int64(2), rev)
}

func TestCursor_ConcurrentCreate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 两个写入方同时首次创建 (都传 rev=0)：后到的按 CAS 失败处理
	require.NoError(t, repo.SetCursor(ctx, "fresh", []byte("winner"), 0))

	err := repo.SetCursor(ctx, "fresh", []byte("loser"), 0)
	assert.ErrorIs(t, err, cursor.ErrStale)

	val, _, _, err := repo.GetCursor(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []byte("winner"), val)
}

func TestCursor_ConcurrentCreate_TranslatedError(t *testing.T) {
	// 生产环境的连接 (NewDB) 开启了 TranslateError：
	// 驱动原生的唯一约束错误被翻译成 gorm.ErrDuplicatedKey，
	// 并发创建检测必须走这条 errors.Is 分支 (而不是字符串匹配)
	repo := setupTestRepoWithConfig(t, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	ctx := context.Background()

	require.NoError(t, repo.SetCursor(ctx, "fresh", []byte("winner"), 0))

	err := repo.SetCursor(ctx, "fresh", []byte("loser"), 0)
	assert.ErrorIs(t, err, cursor.ErrStale, "翻译后的重复键错误也必须映射为 ErrStale")

	val, _, _, err := repo.GetCursor(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []byte("winner"), val)
}

func TestRefreshLog(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 记录两次发布
	require.NoError(t, repo.LogRefresh(ctx, "raw_data", "v1", map[string]any{"file_count": 3}))
	require.NoError(t, repo.LogRefresh(ctx, "raw_data", "v2", nil))
	require.NoError(t, repo.LogRefresh(ctx, "metrics", "v1", nil))

	// 幂等写入：同一 (key, version) 重复发布不报错、不重复记录
	require.NoError(t, repo.LogRefresh(ctx, "raw_data", "v1", nil))

	logs, err := repo.FindRefreshesByKey(ctx, "raw_data", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, "raw_data", l.Key)
	}
}
