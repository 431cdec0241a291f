package refresher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"statevault/pkg/types"
)

// Component 是编排器对“可刷新单元”的最小依赖面
// 任何类型只要能报出稳定的 Key、并自己完成重算+落盘，就能被批量刷新
type Component interface {
	// Key 返回进程内唯一的稳定标识符
	Key() types.Key

	// Refresh 重算状态并通过状态存储门面发布
	// 成功返回 nil 的那一刻，该组件的新版本即已持久 (与兄弟组件的结局无关)
	Refresh(ctx context.Context) error
}

// Status 是单个组件在一次编排运行中的瞬时状态
// 状态机: Pending -> Updating -> {Succeeded | Failed} (终态)
// 不持久化，只活在一次 Run 的内存里
type Status int

const (
	StatusPending Status = iota
	StatusUpdating
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUpdating:
		return "updating"
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Failure 是一条 (key, error) 失败记录
type Failure struct {
	Key types.Key
	Err error
}

// BatchError 聚合一次批量刷新中所有失败的组件
// 批量刷新不是事务：成功的组件已经各自提交，这里只报告失败者
type BatchError struct {
	Failures []Failure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d component(s) failed to refresh:", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s: %v", f.Key, f.Err)
	}
	return b.String()
}

// FailedKeys 返回排序后的失败 Key 列表，方便断言和展示
func (e *BatchError) FailedKeys() []types.Key {
	keys := make([]types.Key, 0, len(e.Failures))
	for _, f := range e.Failures {
		keys = append(keys, f.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
