package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/venue/polymarket"
	"github.com/avivsh/polystrat/pkg/config"
	"github.com/avivsh/polystrat/pkg/ratelimit"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Check account balances for each credential file",
	RunE:  runBalanceCheck,
}

//nolint:gochecknoglobals // Cobra boilerplate
var balanceEnvFiles []string

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringArrayVarP(&balanceEnvFiles, "env", "e", nil, "Credential file, repeatable (required)")
	_ = balanceCmd.MarkFlagRequired("env")
}

func runBalanceCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := zap.NewNop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, envFile := range balanceEnvFiles {
		creds, err := config.LoadCredentials(envFile)
		if err != nil {
			return err
		}

		clobURL := creds.CLOBURL
		if clobURL == "" {
			clobURL = cfg.CLOBBaseURL
		}
		client, err := polymarket.New(&polymarket.Config{
			BaseURL:        clobURL,
			RPCURL:         cfg.PolygonRPCURL,
			APIKey:         creds.APIKey,
			Secret:         creds.APISecret,
			Passphrase:     creds.APIPassphrase,
			PrivateKey:     creds.PrivateKey,
			FunderAddress:  creds.FunderAddress,
			ChainID:        creds.ChainID,
			HTTPTimeout:    cfg.HTTPTimeout,
			BalanceTTL:     cfg.BalanceTTL,
			BalanceTimeout: cfg.BalanceTimeout,
			Limiter:        ratelimit.New("clob", cfg.RateTiers, logger),
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("client for %s: %w", envFile, err)
		}

		balance, err := client.GetBalance(ctx, true)
		if err != nil {
			fmt.Printf("%s (%s): balance unavailable: %v\n", envFile, client.GetAddress(), err)
			_ = client.Close()
			continue
		}

		fmt.Printf("%s (%s): $%.2f\n", envFile, client.GetAddress(), balance)
		_ = client.Close()
	}

	return nil
}
