package statestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"statevault/pkg/cursor"
	"statevault/pkg/state"
	"statevault/pkg/storage"
	"statevault/pkg/types"
)

// InfoKey 是指针记录在游标存储里的固定 well-known name
const InfoKey = "__latest_state_info__"

// maxCASRetries 是指针记录读-改-写冲突时的重试上限
// 冲突窗口极短 (编码 + 一次条件写)，5 次在实践中绰绰有余
const maxCASRetries = 5

var (
	// ErrStateNotFound 表示请求的 (key, version) 从未上传过
	ErrStateNotFound = errors.New("state not found for key/version")
)

// Store 是状态存储的门面 (Facade)：组合 Blob 存储和游标存储，
// 并定义两者之间的崩溃一致性协议：
//
//	指针记录永远不会指向一个字节没落盘的版本 (write-before-publish)
type Store struct {
	blobs   storage.Store
	cursors cursor.Store
}

func NewStore(blobs storage.Store, cursors cursor.Store) *Store {
	return &Store{blobs: blobs, cursors: cursors}
}

// DownloadStateToPath 把 (key, version) 的状态 Blob 拷贝到本地路径
// 精确匹配：不存在返回 ErrStateNotFound，并且不会在 path 创建任何文件
func (s *Store) DownloadStateToPath(ctx context.Context, key types.Key, version types.Version, path string) error {
	reader, err := s.blobs.Get(ctx, key, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: key=%s version=%s", ErrStateNotFound, key, version)
		}
		return fmt.Errorf("failed to get state blob: %w", err)
	}
	defer reader.Close()

	// 只有确认 Blob 存在后才创建目标文件
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create destination %s: %w", path, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("failed to write state to %s: %w", path, err)
	}
	return nil
}

// UploadStateFromPath 上传本地路径的字节到 (key, version)，
// 成功后把该 Key 的最新版本指针指向它。
//
// 顺序是硬性约束：(a) Blob 写入 happens-before (b) 指针发布。
// (a) 失败时 (b) 绝不执行 —— 这就是崩溃一致性不变量。
func (s *Store) UploadStateFromPath(ctx context.Context, key types.Key, version types.Version, path string) error {
	// 幂等性检查：同一 (key, version) 已经传过就跳过字节拷贝
	// (Blob 一旦写入不可变，重传没有意义)
	exists, err := s.blobs.Has(ctx, key, version)
	if err != nil {
		return fmt.Errorf("failed to check state blob: %w", err)
	}

	if !exists {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open source %s: %w", path, err)
		}

		err = s.blobs.Put(ctx, key, version, f)
		f.Close()
		if err != nil {
			// Blob 没写成功，指针保持原样
			return fmt.Errorf("failed to upload state blob: %w", err)
		}
	}

	// 即使 Blob 已存在也要重新发布指针：
	// 保证重复刷新后指针条目稳定指向该版本 (值不变，不报错)
	return s.SetLatestVersion(ctx, key, version)
}

// SetLatestVersion 对指针记录做读-改-写：
// 读当前记录 (没有则从空开始)，覆盖该 Key 的条目，整体写回。
//
// 这个读-改-写本身不是原子的，多个组件并发刷新时会互相覆盖 (丢更新)。
// 所以这里必须走游标存储的 CAS：rev 不匹配就重读重试，重试耗尽才报错。
func (s *Store) SetLatestVersion(ctx context.Context, key types.Key, version types.Version) error {
	var lastErr error

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		raw, rev, found, err := s.cursors.Get(ctx, InfoKey)
		if err != nil {
			return fmt.Errorf("failed to read state info cursor: %w", err)
		}

		var info *state.Info
		if found {
			info, err = state.Decode(raw)
			if err != nil {
				// 记录损坏是致命错误，不能当作空记录覆盖掉
				return err
			}
		}

		// 语义层合并：只改这个 Key，其他 Key 的条目原样保留
		next := info.WithVersion(key, version)
		data, err := next.Encode()
		if err != nil {
			return err
		}

		if !found {
			rev = 0
		}
		err = s.cursors.Set(ctx, InfoKey, data, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, cursor.ErrStale) {
			return fmt.Errorf("failed to write state info cursor: %w", err)
		}
		// CAS 冲突：别人刚发布了自己的 Key，重读再来
		lastErr = err
	}

	return fmt.Errorf("state info update lost the CAS race %d times: %w", maxCASRetries, lastErr)
}

// GetLatestInfo 返回当前指针记录
// 从未有组件发布过时返回 (nil, nil) —— 显式的 absent
// 记录存在但解码失败时返回 state.ErrCorruptInfo，绝不静默当作 absent
func (s *Store) GetLatestInfo(ctx context.Context) (*state.Info, error) {
	raw, _, found, err := s.cursors.Get(ctx, InfoKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read state info cursor: %w", err)
	}
	if !found {
		return nil, nil
	}
	return state.Decode(raw)
}

// LatestVersion 便捷方法：返回某个 Key 的已发布版本
// 没发布过返回 ErrStateNotFound
func (s *Store) LatestVersion(ctx context.Context, key types.Key) (types.Version, error) {
	info, err := s.GetLatestInfo(ctx)
	if err != nil {
		return "", err
	}
	if info == nil || !info.Has(key) {
		return "", fmt.Errorf("%w: key=%s has never published", ErrStateNotFound, key)
	}
	return info.Version(key), nil
}
