// pkg/app/app.go
package app

import (
	"context"
	"fmt"

	"statevault/pkg/component"
	"statevault/pkg/cursor"
	cursorfile "statevault/pkg/cursor/file"
	"statevault/pkg/meta"
	"statevault/pkg/refresher"
	"statevault/pkg/statestore"
	"statevault/pkg/storage"
	"statevault/pkg/storage/cache"
	"statevault/pkg/storage/disk"
	"statevault/pkg/storage/s3"
	"statevault/pkg/types"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Store   storage.Store
	Cursors cursor.Store
	States  *statestore.Store

	// History 是可选的刷新历史落库 (cursor.backend=db 时可用)
	History *meta.Repository
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	// 1. 初始化 Blob 存储层 (Dependency Injection)
	store, err := initStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. 可选的 Redis 存在性缓存层 (装饰器)
	if viper.GetBool("cache.enabled") {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: viper.GetString("cache.redis_url"),
			TTL:      viper.GetDuration("cache.ttl"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init cache layer: %w", err)
		}
		store = cached
	}

	// 3. 初始化游标存储 (指针记录的落脚点)
	cursors, history, err := initCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init cursor store: %w", err)
	}

	return &App{
		Store:   store,
		Cursors: cursors,
		States:  statestore.NewStore(store, cursors),
		History: history,
	}, nil
}

// initStore 根据配置选择 Blob 存储后端
func initStore(ctx context.Context) (storage.Store, error) {
	switch viper.GetString("storage.type") {
	case "disk":
		return disk.NewAdapter(viper.GetString("storage.path"))

	case "s3":
		bucket := viper.GetString("storage.s3.bucket")
		if bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required (set storage.s3.bucket)")
		}
		return s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          bucket,
			Prefix:          viper.GetString("storage.s3.prefix"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		})

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", viper.GetString("storage.type"))
	}
}

// initCursors 根据配置选择游标后端
// db 后端顺带提供刷新历史能力 (Repository)
func initCursors(ctx context.Context) (cursor.Store, *meta.Repository, error) {
	switch viper.GetString("cursor.backend") {
	case "file":
		cs, err := cursorfile.NewStore(viper.GetString("cursor.path"))
		return cs, nil, err

	case "db":
		db, err := meta.NewDB(ctx, meta.Config{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.name"),
			SSLMode:  viper.GetString("database.sslmode"),
		})
		if err != nil {
			return nil, nil, err
		}
		repo := meta.NewRepository(db)
		return repo.Cursors(), repo, nil

	default:
		return nil, nil, fmt.Errorf("unsupported cursor backend: %q", viper.GetString("cursor.backend"))
	}
}

// Components 根据配置枚举可刷新组件集合
// 配置形如:
//
//	components:
//	  raw_data:
//	    type: snapshot
//	    dir: ./data
func (a *App) Components() ([]refresher.Component, error) {
	raw := viper.GetStringMap("components")
	components := make([]refresher.Component, 0, len(raw))

	for name := range raw {
		sub := viper.Sub("components." + name)
		if sub == nil {
			continue
		}

		kind := sub.GetString("type")
		switch kind {
		case "snapshot", "":
			dir := sub.GetString("dir")
			if dir == "" {
				return nil, fmt.Errorf("component %q: dir is required", name)
			}
			c := component.NewDirSnapshot(types.Key(name), dir, a.States)
			if a.History != nil {
				c.WithRecorder(a.History)
			}
			components = append(components, c)

		default:
			return nil, fmt.Errorf("component %q: unknown type %q", name, kind)
		}
	}

	return components, nil
}
