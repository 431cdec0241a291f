package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"statevault/pkg/cursor"

	"github.com/fxamacker/cbor/v2"
)

// envelope 是游标文件的磁盘格式：值 + 乐观锁版本号
type envelope struct {
	Rev   int64  `cbor:"rev"`
	Value []byte `cbor:"val"`
}

// Store 实现了 cursor.Store 接口，把每个游标存成一个独立文件
// 适合本地单机模式 (不需要数据库/Redis)
//
// 并发策略分两层：
//   - 进程内：mu 串行化所有读-改-写，避免同进程写入方互相触发 CAS 重试
//   - 崩溃：temp+rename 原子替换，读取方看不到半截文件
//
// 注意 CAS 检查只在进程内生效：两个独立进程仍可能交错
// check-and-rename 而互相覆盖。多进程写入请使用 db 游标后端。
type Store struct {
	rootPath string
	mu       sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cursor dir: %w", err)
	}
	return &Store{rootPath: root}, nil
}

// cursorPath 返回游标的物理路径
func (s *Store) cursorPath(name string) string {
	return filepath.Join(s.rootPath, name)
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(name)
}

// read 是无锁版本，供 Get/Set 内部复用 (调用方必须持有 mu)
func (s *Store) read(name string) ([]byte, int64, bool, error) {
	data, err := os.ReadFile(s.cursorPath(name))
	if os.IsNotExist(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read cursor %s: %w", name, err)
	}

	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, 0, false, fmt.Errorf("cursor file %s is corrupted: %w", name, err)
	}
	return env.Value, env.Rev, true, nil
}

func (s *Store) Set(ctx context.Context, name string, value []byte, rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. CAS 检查：磁盘上的 rev 必须等于调用方读到的 rev
	_, currentRev, found, err := s.read(name)
	if err != nil {
		return err
	}
	if !found {
		currentRev = 0
	}
	if currentRev != rev {
		return cursor.ErrStale
	}

	// 2. 序列化新 envelope (rev 自增)
	data, err := cbor.Marshal(envelope{Rev: rev + 1, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal cursor envelope: %w", err)
	}

	// 3. 原子替换：先写临时文件再 Rename
	// 并发读取方要么看到旧的完整文件，要么看到新的完整文件，不会看到半截
	tempFile, err := os.CreateTemp(s.rootPath, "cursor-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	if err := os.Rename(tempFile.Name(), s.cursorPath(name)); err != nil {
		return fmt.Errorf("failed to replace cursor %s: %w", name, err)
	}
	return nil
}
