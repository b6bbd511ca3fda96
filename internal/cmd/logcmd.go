package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the tail of the latest run log",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir(cmd)
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("lines")

		logsDir := filepath.Join(dir, store.DirName, "logs")
		entries, err := os.ReadDir(logsDir)
		if err != nil {
			return fmt.Errorf("no logs found under %s: %w", logsDir, err)
		}
		var names []string
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
				names = append(names, entry.Name())
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("no log files under %s", logsDir)
		}
		sort.Strings(names)
		latest := filepath.Join(logsDir, names[len(names)-1])

		data, err := os.ReadFile(latest) //#nosec G304 -- store-scoped
		if err != nil {
			return err
		}
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
		return nil
	},
}

func init() {
	logCmd.Flags().IntP("lines", "n", 50, "number of lines to show")
	rootCmd.AddCommand(logCmd)
}
