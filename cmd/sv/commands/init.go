package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a StateVault workspace",
	Long:  `Create an empty StateVault workspace or reinitialize an existing one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 获取当前路径
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		// 2. 定义工作区路径 (.sv)
		repoPath := filepath.Join(wd, ".sv")
		statesPath := filepath.Join(repoPath, "states")
		cursorsPath := filepath.Join(repoPath, "cursors")

		// 3. 检查是否已存在
		if _, err := os.Stat(repoPath); err == nil {
			fmt.Printf("⚠️  StateVault workspace already exists in %s\n", repoPath)
			return nil
		}

		// 4. 创建目录结构
		// .sv/states 存放 Blob，.sv/cursors 存放指针记录
		if err := os.MkdirAll(statesPath, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}
		if err := os.MkdirAll(cursorsPath, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}

		fmt.Printf("✅ Initialized empty StateVault workspace in %s\n", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
