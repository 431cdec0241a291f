package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"statevault/pkg/storage"
	"statevault/pkg/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /home/user/.sv/states
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout 返回 (key, version) 对应的物理路径
// 布局: root/<key>/<version>
func (s *Adapter) layout(key types.Key, version types.Version) string {
	return filepath.Join(s.rootPath, string(key), string(version))
}

func (s *Adapter) Put(ctx context.Context, key types.Key, version types.Version, r io.Reader) error {
	targetPath := s.layout(key, version)

	// 1. 准备目录
	// 顺序要求：<key> 目录必须先于 Blob 写入就绪，
	// 这样并发读取方不会观察到短暂的 missing-parent 错误
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 2. 原子写入 (Atomic Write)
	// 技巧：先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	// 确保临时文件会被清理（如果成功 Rename 了，这个删除会失效，或者无害）
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, r); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 3. 移动到最终位置
	// 同一 (key, version) 重复写入：last-write-wins
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return err
	}

	return nil
}

func (s *Adapter) Get(ctx context.Context, key types.Key, version types.Version) (io.ReadCloser, error) {
	targetPath := s.layout(key, version)

	f, err := os.Open(targetPath)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, key types.Key, version types.Version) (bool, error) {
	targetPath := s.layout(key, version)
	_, err := os.Stat(targetPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
