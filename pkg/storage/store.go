package storage

import (
	"context"
	"errors"
	"io"

	"statevault/pkg/types"
)

var (
	ErrNotFound = errors.New("state blob not found")
)

// Store defines the interface for a versioned blob backend.
// Implementations can be local disk, cloud storage, or in-memory storage.
type Store interface {
	// Put 将一个状态 Blob 持久化到 (key, version)
	// 要求：key 的命名空间 (目录/前缀) 必须在写入前就绪
	// Blob 一旦写入视为不可变；同一 (key, version) 重复写入是 last-write-wins
	Put(ctx context.Context, key types.Key, version types.Version, r io.Reader) error

	// Get 读取 (key, version) 的原始数据
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte
	// 原因：状态 Blob 可能很大，流式读取避免一次性进内存
	// 精确匹配：没有就返回 ErrNotFound，绝不回退到其他版本
	Get(ctx context.Context, key types.Key, version types.Version) (io.ReadCloser, error)

	// Has 检查 Blob 是否存在 (用于幂等重传判断)
	Has(ctx context.Context, key types.Key, version types.Version) (bool, error)

	// Delete (可选，暂不实现：版本保留/GC 是外部关心的事，核心只增不删)
	// Delete(ctx context.Context, key types.Key, version types.Version) error
}
