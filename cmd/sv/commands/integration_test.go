package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"statevault/pkg/app"
	"statevault/pkg/statestore"
	"statevault/pkg/types"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationEnv 搭建一个使用 真实文件系统 的集成环境
// 返回 App 和组件源目录
func setupIntegrationEnv(t *testing.T) (*app.App, string) {
	// 1. 准备临时工作目录
	tmpDir := t.TempDir()
	srcDir := filepath.Join(tmpDir, "data")
	require.NoError(t, os.MkdirAll(srcDir, 0755))

	// 2. 通过 Viper 配置 磁盘 Blob + 文件游标 + 一个快照组件
	viper.Reset()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(tmpDir, ".sv", "states"))
	viper.Set("cursor.backend", "file")
	viper.Set("cursor.path", filepath.Join(tmpDir, ".sv", "cursors"))
	viper.Set("components.raw_data.type", "snapshot")
	viper.Set("components.raw_data.dir", srcDir)

	// 3. 组装 App
	application, err := app.NewApp(context.Background())
	require.NoError(t, err)

	// 4. 【关键】注入全局变量 SV
	// 因为 cmd 包依赖全局变量 SV，我们在测试里临时覆盖它
	SV = application

	// 直接调用 RunE 时没有经过 Execute，需要手动挂上 context
	setCommandContexts(context.Background())

	return application, srcDir
}

func setCommandContexts(ctx context.Context) {
	refreshCmd.SetContext(ctx)
	getCmd.SetContext(ctx)
	statusCmd.SetContext(ctx)
}

func TestIntegration_RefreshFlow(t *testing.T) {
	// 1. 搭建环境
	app, srcDir := setupIntegrationEnv(t)
	ctx := context.Background()

	// 2. 模拟用户数据：往组件目录里放两个文件
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "model.bin"), []byte("weights"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "labels.csv"), []byte("a,b"), 0644))

	// 3. 执行 sv refresh
	refreshConcurrency = 0
	err := refreshCmd.RunE(refreshCmd, []string{})
	require.NoError(t, err, "refresh command should succeed")

	// --- 验证阶段 ---

	// A. 指针记录里应该出现恰好一个条目
	info, err := app.States.GetLatestInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Len())

	version := info.Version("raw_data")
	require.False(t, version.IsZero(), "raw_data should be published")

	// B. Blob 必须真实存在于对象存储
	exists, err := app.Store.Has(ctx, "raw_data", version)
	require.NoError(t, err)
	assert.True(t, exists, "published version must exist in blob storage")

	// C. 幂等重刷：内容没变，再跑一次 refresh 不应该换版本
	err = refreshCmd.RunE(refreshCmd, []string{})
	require.NoError(t, err)

	v2, err := app.States.LatestVersion(ctx, "raw_data")
	require.NoError(t, err)
	assert.Equal(t, version, v2, "unchanged content must republish the same version")

	t.Logf("✅ Integration Test Passed: raw_data @ %s is fully persisted", version.Short())
}

func TestIntegration_RefreshEmptyConfig(t *testing.T) {
	tmpDir := t.TempDir()

	viper.Reset()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(tmpDir, ".sv", "states"))
	viper.Set("cursor.backend", "file")
	viper.Set("cursor.path", filepath.Join(tmpDir, ".sv", "cursors"))
	// 故意不配置任何组件

	application, err := app.NewApp(context.Background())
	require.NoError(t, err)
	SV = application
	setCommandContexts(context.Background())

	// 空集合是 no-op 成功，指针记录保持 absent
	require.NoError(t, refreshCmd.RunE(refreshCmd, []string{}))

	info, err := application.States.GetLatestInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info, "no-op refresh must not create a pointer record")
}

func TestIntegration_GetFlow(t *testing.T) {
	app, srcDir := setupIntegrationEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "model.bin"), []byte("weights"), 0644))

	require.NoError(t, refreshCmd.RunE(refreshCmd, []string{}))

	version, err := app.States.LatestVersion(ctx, "raw_data")
	require.NoError(t, err)

	// sv get raw_data -o <dest>：不带 version 时取 latest
	dest := filepath.Join(t.TempDir(), "out.state")
	getOutput = dest
	defer func() { getOutput = "" }()

	require.NoError(t, getCmd.RunE(getCmd, []string{"raw_data"}))

	stat, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), int64(0))

	// 显式指定 version 也要能下载同一份
	dest2 := filepath.Join(t.TempDir(), "out2.state")
	getOutput = dest2
	require.NoError(t, getCmd.RunE(getCmd, []string{"raw_data", string(version)}))

	b1, err := os.ReadFile(dest)
	require.NoError(t, err)
	b2, err := os.ReadFile(dest2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestIntegration_GetNeverPublished(t *testing.T) {
	setupIntegrationEnv(t)

	// 没刷新过就 get：报错且不落文件
	dest := filepath.Join(t.TempDir(), "out.state")
	getOutput = dest
	defer func() { getOutput = "" }()

	err := getCmd.RunE(getCmd, []string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never published")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed get must not create the destination file")
}

func TestIntegration_RefreshCancelledContext(t *testing.T) {
	// 命令的 context 必须透传到刷新任务：
	// 已取消的 context 下，组件刷新应该失败而不是照常发布
	_, srcDir := setupIntegrationEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("x"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	setCommandContexts(ctx)

	err := refreshCmd.RunE(refreshCmd, []string{})
	require.Error(t, err, "cancelled context must abort the refresh")

	_, err = SV.States.LatestVersion(context.Background(), "raw_data")
	assert.ErrorIs(t, err, statestore.ErrStateNotFound, "aborted component must not publish")
}

func TestIntegration_PartialFailure(t *testing.T) {
	// 两个组件，一个的目录不存在 (刷新必败)：
	// 批次报错，但健康组件照常发布
	tmpDir := t.TempDir()
	goodDir := filepath.Join(tmpDir, "good")
	require.NoError(t, os.MkdirAll(goodDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(goodDir, "a.txt"), []byte("x"), 0644))

	viper.Reset()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(tmpDir, ".sv", "states"))
	viper.Set("cursor.backend", "file")
	viper.Set("cursor.path", filepath.Join(tmpDir, ".sv", "cursors"))
	viper.Set("components.good.dir", goodDir)
	viper.Set("components.bad.dir", filepath.Join(tmpDir, "does-not-exist"))

	application, err := app.NewApp(context.Background())
	require.NoError(t, err)
	SV = application
	setCommandContexts(context.Background())

	err = refreshCmd.RunE(refreshCmd, []string{})
	require.Error(t, err, "batch with a failing component must exit non-zero")

	ctx := context.Background()
	v, err := application.States.LatestVersion(ctx, "good")
	require.NoError(t, err, "healthy sibling must stay published")
	assert.False(t, v.IsZero())

	_, err = application.States.LatestVersion(ctx, types.Key("bad"))
	assert.ErrorIs(t, err, statestore.ErrStateNotFound, "failed component must not publish")
}
