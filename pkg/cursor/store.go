package cursor

import (
	"context"
	"errors"
)

var (
	// ErrStale 表示 CAS 失败：你拿着的版本号已经过期，有人抢先写入了
	ErrStale = errors.New("concurrent cursor update detected (CAS failed)")
)

// Store 是通用的小型 KV 游标存储：一个 name 对应一个小的不透明值
// 指针记录整体作为一个值存在一个固定的 well-known name 下
//
// 并发纪律：Get 返回的 rev 是乐观锁版本号，Set 必须带着它。
// 后端在 rev 不匹配时返回 ErrStale，调用方重读重试。
// 这是防止“读-改-写”丢更新的唯一防线，不是可选项。
type Store interface {
	// Get 读取游标值
	// found=false 表示从未写入过 (显式的 absent，区别于空值)
	Get(ctx context.Context, name string) (value []byte, rev int64, found bool, err error)

	// Set 条件写入：只有当存储中当前 rev 等于参数 rev 时才生效
	// 首次创建传 rev=0
	// 冲突返回 ErrStale；写入必须是原子的，并发读取方看不到半截字节
	Set(ctx context.Context, name string, value []byte, rev int64) error
}
