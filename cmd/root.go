package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/avivsh/polystrat/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "polystrat",
	Short: "Multi-strategy prediction market trading engine",
	Long: `polystrat runs pluggable trading strategies against prediction
markets: extreme-price mean reversion, calendar deadline arbitrage,
cross-platform arbitrage, wide-spread capture, and intra-event pair
arbitrage.

Each strategy runs scan, monitor and stats loops per account. Positions
are persisted across restarts and exits are driven by live price feeds.`,
	SilenceUsage: true,
}

// Execute runs the root command. Configuration errors exit with code 1,
// runtime failures with code 2; a clean shutdown exits 0.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var confErr *types.ConfigurationError
	if errors.As(err, &confErr) {
		return 1
	}
	return 2
}
