package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/avivsh/polystrat/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show positions persisted in the data directory",
	RunE:  runPositions,
}

//nolint:gochecknoglobals // Cobra boilerplate
var positionsDataDir string

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().StringVarP(&positionsDataDir, "data-dir", "d", "data", "Directory holding position files")
}

func runPositions(cmd *cobra.Command, args []string) error {
	files, err := filepath.Glob(filepath.Join(positionsDataDir, "positions_*.json"))
	if err != nil {
		return fmt.Errorf("glob position files: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("no position files found in", positionsDataDir)
		return nil
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}

		var positions map[string]*types.Position
		if err := json.Unmarshal(data, &positions); err != nil {
			fmt.Printf("%s: unreadable (%v)\n", file, err)
			continue
		}

		fmt.Printf("%s: %d position(s)\n", file, len(positions))

		keys := make([]string, 0, len(positions))
		for k := range positions {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		total := 0.0
		for _, key := range keys {
			pos := positions[key]
			total += pos.CommittedCapital()
			fmt.Printf("  [%s] %s %s legs=%d cost=$%.2f entered=%s\n",
				pos.Status, pos.Strategy, shortID(key), len(pos.Legs),
				pos.CommittedCapital(), pos.EntryTime.Format("2006-01-02 15:04"))
			if pos.Question != "" {
				fmt.Printf("      %s\n", pos.Question)
			}
		}
		fmt.Printf("  committed: $%.2f\n", total)
	}

	return nil
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10] + "…"
	}
	return id
}
