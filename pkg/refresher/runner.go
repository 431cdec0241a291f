package refresher

import (
	"context"
	"fmt"
	"sort"

	"statevault/pkg/types"
)

// Observer 在每次状态跃迁时被调用，用于实时刷新展示
// 它只会从收集器这一个 goroutine 被调用，实现方不需要加锁
type Observer func(key types.Key, st Status, err error)

// Runner 驱动一批相互独立的组件并发刷新
//
// 设计要点：
//   - 一个组件一个 goroutine，全量屏障汇合 (fan-out / fan-in)
//   - 某个组件失败绝不取消兄弟组件 —— 隔离是完全的
//   - 任务只通过 channel 投递结果，状态跃迁全部由收集器
//     这一个 goroutine 对外报告，所以 Observer 不需要锁
type Runner struct {
	// Concurrency 限制同时执行的刷新任务数，<=0 表示不限制
	Concurrency int

	// Observer 可选，nil 时静默运行
	Observer Observer
}

// result 是任务投递给收集器的消息
type result struct {
	key types.Key
	err error
}

// Run 刷新全部组件，等到每个组件到达终态才返回
//
// 返回值：有任何组件失败时返回 *BatchError (完整的 key/error 列表)；
// 成功组件的指针更新不会被回滚。空组件集是 no-op 成功。
func (r *Runner) Run(ctx context.Context, components []Component) error {
	if len(components) == 0 {
		return nil
	}

	notify := r.Observer
	if notify == nil {
		notify = func(types.Key, Status, error) {}
	}

	// 1. 渲染初始视图：所有组件进入 updating
	for _, c := range components {
		notify(c.Key(), StatusUpdating, nil)
	}

	// 2. 发射任务
	resCh := make(chan result, len(components))

	var sem chan struct{}
	if r.Concurrency > 0 && r.Concurrency < len(components) {
		sem = make(chan struct{}, r.Concurrency)
	}

	for _, c := range components {
		go func(c Component) {
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			resCh <- result{key: c.Key(), err: r.runOne(ctx, c)}
		}(c)
	}

	// 3. 收集：收满 len(components) 个结果才算屏障通过
	// 终态跃迁在这里同步报告给 Observer
	var failures []Failure
	for i := 0; i < len(components); i++ {
		res := <-resCh
		if res.err != nil {
			failures = append(failures, Failure{Key: res.key, Err: res.err})
			notify(res.key, StatusFailed, res.err)
		} else {
			notify(res.key, StatusSucceeded, nil)
		}
	}

	// 4. 聚合
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })
		return &BatchError{Failures: failures}
	}
	return nil
}

// runOne 执行单个组件的刷新，把任何形式的失败都收敛成 error
// 任务边界必须兜住 panic：一个组件的崩溃不能拖垮整个批次
func (r *Runner) runOne(ctx context.Context, c Component) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh panicked: %v", p)
		}
	}()
	return c.Refresh(ctx)
}
