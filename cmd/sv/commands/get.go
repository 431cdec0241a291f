package commands

import (
	"errors"
	"fmt"

	"statevault/pkg/statestore"
	"statevault/pkg/types"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get [key] [version]",
	Short: "Download a component's state blob to a local file",
	Long: `Download the state blob for the given component key to a local path.
If version is omitted, the currently-published latest version is used.`,
	Args: cobra.RangeArgs(1, 2), // key 必填，version 可选
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("application not initialized")
		}

		ctx := cmd.Context()
		key := types.Key(args[0])

		// 1. 确定版本：显式指定 > 指针记录里的 latest
		var version types.Version
		if len(args) > 1 {
			version = types.Version(args[1])
		} else {
			v, err := SV.States.LatestVersion(ctx, key)
			if err != nil {
				if errors.Is(err, statestore.ErrStateNotFound) {
					return fmt.Errorf("component %q has never published state", key)
				}
				return err
			}
			version = v
		}

		// 2. 下载
		dest := getOutput
		if dest == "" {
			dest = fmt.Sprintf("%s-%s.state", key, version.Short())
		}

		if err := SV.States.DownloadStateToPath(ctx, key, version, dest); err != nil {
			return fmt.Errorf("get failed: %w", err)
		}

		fmt.Printf("✅ %s @ %s -> %s\n", key, version.Short(), dest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "destination path (default: <key>-<version>.state)")
}
