package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"statevault/pkg/types"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest published version of every component",
	Long:  `Display the pointer record: for each component key, the currently-published state version and when it was published.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if SV == nil {
			return fmt.Errorf("application not initialized")
		}

		info, err := SV.States.GetLatestInfo(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read state info: %w", err)
		}

		// absent 和空映射都按“还没发布过”展示
		if info.Len() == 0 {
			fmt.Println("No component has published state yet.")
			return nil
		}

		// 按 Key 排序，输出稳定
		keys := make([]string, 0, info.Len())
		for k := range info.Mapping {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVERSION\tPUBLISHED")
		for _, k := range keys {
			entry := info.Mapping[types.Key(k)]
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				k,
				entry.Version.Short(),
				time.Unix(entry.CreateTimestamp, 0).Format(time.RFC1123),
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
