package commands

import (
	"errors"
	"fmt"
	"time"

	"statevault/pkg/refresher"
	"statevault/pkg/types"

	"github.com/spf13/cobra"
)

var refreshConcurrency int

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the state of all configured components",
	Long: `Recompute and publish the state of every configured component concurrently.
Each component commits independently: a failing component never rolls back
its siblings. Exits non-zero if any component failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 0. 防御检查
		if SV == nil {
			return fmt.Errorf("application not initialized")
		}

		ctx := cmd.Context()
		start := time.Now()

		// 1. 枚举目标组件集合
		components, err := SV.Components()
		if err != nil {
			return fmt.Errorf("failed to enumerate components: %w", err)
		}
		if len(components) == 0 {
			// 空集合是 no-op 成功：指针记录保持原样
			fmt.Println("nothing to refresh, no components configured")
			return nil
		}

		fmt.Printf("🔄 Refreshing %d component(s)...\n", len(components))

		// 2. 并发刷新，实时打印状态跃迁
		// Observer 只从收集器这一个 goroutine 被调用，直接打印是安全的
		runner := &refresher.Runner{
			Concurrency: refreshConcurrency,
			Observer: func(key types.Key, st refresher.Status, err error) {
				switch st {
				case refresher.StatusUpdating:
					fmt.Printf("   ⏳ %s: updating\n", key)
				case refresher.StatusSucceeded:
					fmt.Printf("   ✅ %s: success\n", key)
				case refresher.StatusFailed:
					fmt.Printf("   ❌ %s: %v\n", key, err)
				}
			},
		}

		err = runner.Run(ctx, components)

		// 3. 聚合结果
		var batchErr *refresher.BatchError
		if errors.As(err, &batchErr) {
			// 成功的组件已经各自提交，这里只报告失败者并以非零退出
			fmt.Printf("\n⚠️  %d of %d component(s) failed (successful ones stay published)\n",
				len(batchErr.Failures), len(components))
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("✅ All components refreshed in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().IntVarP(&refreshConcurrency, "concurrency", "j", 0,
		"max concurrent refreshes (0 = unlimited)")
}
