package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/positions"
	"github.com/avivsh/polystrat/internal/riskguard"
	"github.com/avivsh/polystrat/internal/semantic"
	"github.com/avivsh/polystrat/internal/storage"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/internal/stream"
	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/internal/venue/kalshi"
	"github.com/avivsh/polystrat/internal/venue/polymarket"
	"github.com/avivsh/polystrat/pkg/cache"
	"github.com/avivsh/polystrat/pkg/config"
	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

// dryRunPaperBalance is the simulated balance handed to dry-run accounts.
const dryRunPaperBalance = 10_000.0

// Launcher builds one full stack per credential file and runs them side by
// side under a shared context.
type Launcher struct {
	cfg          *config.Config
	strategyName string
	strategyArgs map[string]interface{}
	logger       *zap.Logger
	sink         storage.Storage

	runtimes []*accountStack
}

// accountStack is everything one account owns.
type accountStack struct {
	label     string
	clients   map[types.Venue]venue.Client
	streamer  *stream.Streamer
	store     *positions.Store
	guard     *riskguard.Guard
	runtime   *Runtime
	llmCache  cache.Cache
	metaCache cache.Cache
}

// LauncherConfig holds launcher configuration.
type LauncherConfig struct {
	Config       *config.Config
	StrategyName string
	StrategyArgs map[string]interface{}
	Sink         storage.Storage
	Logger       *zap.Logger
}

// NewLauncher creates a launcher.
func NewLauncher(cfg *LauncherConfig) *Launcher {
	return &Launcher{
		cfg:          cfg.Config,
		strategyName: cfg.StrategyName,
		strategyArgs: cfg.StrategyArgs,
		sink:         cfg.Sink,
		logger:       cfg.Logger,
	}
}

// AddAccount assembles the per-account stack for one credential file.
func (l *Launcher) AddAccount(creds *config.Credentials) error {
	logger := l.logger.With(zap.String("account", creds.Path))

	limiter := ratelimit.New("clob", l.cfg.RateTiers, logger)

	metaCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("metadata cache: %w", err)
	}

	clobURL := creds.CLOBURL
	if clobURL == "" {
		clobURL = l.cfg.CLOBBaseURL
	}
	polyClient, err := polymarket.New(&polymarket.Config{
		BaseURL:        clobURL,
		RPCURL:         l.cfg.PolygonRPCURL,
		APIKey:         creds.APIKey,
		Secret:         creds.APISecret,
		Passphrase:     creds.APIPassphrase,
		PrivateKey:     creds.PrivateKey,
		FunderAddress:  creds.FunderAddress,
		ChainID:        creds.ChainID,
		HTTPTimeout:    l.cfg.HTTPTimeout,
		BalanceTTL:     l.cfg.BalanceTTL,
		BalanceTimeout: l.cfg.BalanceTimeout,
		Limiter:        limiter,
		MetadataCache:  metaCache,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("polymarket client: %w", err)
	}

	var primary venue.Client = polyClient
	if l.cfg.DryRun {
		primary = venue.NewDryRun(polyClient, dryRunPaperBalance, logger)
		logger.Info("dry-run-enabled", zap.Float64("paper_balance", dryRunPaperBalance))
	}

	clients := map[types.Venue]venue.Client{
		types.VenuePolymarket: primary,
	}

	var secondary venue.Client
	var secondaryMarkets strategy.MarketLister
	if creds.SecondaryVenueAPIKey != "" {
		kalshiClient := kalshi.New(&kalshi.Config{
			BaseURL:     l.cfg.KalshiBaseURL,
			APIKey:      creds.SecondaryVenueAPIKey,
			HTTPTimeout: l.cfg.HTTPTimeout,
			Limiter:     ratelimit.New("kalshi", l.cfg.RateTiers, logger),
			Logger:      logger,
		})
		secondary = kalshiClient
		secondaryMarkets = kalshiClient
		if l.cfg.DryRun {
			secondary = venue.NewDryRun(kalshiClient, dryRunPaperBalance, logger)
		}
		clients[types.VenueKalshi] = secondary
	}

	store, err := positions.NewStore(&positions.Config{
		DataDir: l.cfg.DataDir,
		Address: primary.GetAddress(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("position store: %w", err)
	}

	streamer := stream.New(stream.Config{
		URL:                   l.cfg.StreamURL,
		DialTimeout:           l.cfg.StreamDialTimeout,
		PingInterval:          10 * time.Second,
		MaxSilence:            l.cfg.StreamMaxSilence,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     l.cfg.StreamMaxReconnect,
		ReconnectBackoffMult:  2.0,
		Logger:                logger,
	})

	var clusterer *semantic.Clusterer
	var llmCache cache.Cache
	if key := creds.LLMKey(); key != "" {
		llmCache, err = cache.NewRistrettoCache(&cache.RistrettoConfig{
			NumCounters: 10_000,
			MaxCost:     1_000,
			BufferItems: 64,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("llm cache: %w", err)
		}
		clusterer = semantic.NewClusterer(&semantic.ClustererConfig{
			BaseURL:     l.cfg.LLMBaseURL,
			APIKey:      key,
			Model:       l.cfg.LLMModel,
			HTTPTimeout: l.cfg.HTTPTimeout,
			Cache:       llmCache,
			Logger:      logger,
		})
	}

	var guard *riskguard.Guard
	if l.cfg.RiskGuardEnabled {
		guard, err = riskguard.New(&riskguard.Config{
			CheckInterval:   l.cfg.RiskCheckInterval,
			TradeMultiplier: l.cfg.RiskTradeMultiplier,
			MinAbsolute:     l.cfg.RiskMinAbsolute,
			HysteresisRatio: l.cfg.RiskHysteresisRatio,
			Fetcher:         primary,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("risk guard: %w", err)
		}
	}

	deps := &strategy.Deps{
		Catalog: catalog.NewClient(&catalog.Config{
			BaseURL:     l.cfg.CatalogBaseURL,
			HTTPTimeout: l.cfg.HTTPTimeout,
			Limiter:     ratelimit.New("catalog", l.cfg.RateTiers, logger),
			Logger:      logger,
		}),
		Clients:          clients,
		Primary:          primary,
		Secondary:        secondary,
		SecondaryMarkets: secondaryMarkets,
		Executor:         execution.NewExecutor(&execution.Config{Logger: logger}),
		Store:            store,
		Streamer:         streamer,
		Clusterer:        clusterer,
		Config:           l.cfg,
		Logger:           logger,
	}

	strat, err := strategy.New(l.strategyName, deps, l.strategyArgs)
	if err != nil {
		return err
	}

	l.runtimes = append(l.runtimes, &accountStack{
		label:     creds.Path,
		clients:   clients,
		streamer:  streamer,
		store:     store,
		guard:     guard,
		llmCache:  llmCache,
		metaCache: metaCache,
		runtime: New(&Config{
			Strategy: strat,
			Deps:     deps,
			Guard:    guard,
			Sink:     l.sink,
			Logger:   logger,
		}),
	})

	return nil
}

// Stores returns each account's position store for read-only surfaces.
func (l *Launcher) Stores() []*positions.Store {
	out := make([]*positions.Store, 0, len(l.runtimes))
	for _, stack := range l.runtimes {
		out = append(out, stack.store)
	}
	return out
}

// Run starts every account stack and blocks until ctx is cancelled, then
// shuts each stack down: drain the loops, persist positions, close the
// streamer, release the venue clients.
func (l *Launcher) Run(ctx context.Context) error {
	if len(l.runtimes) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, stack := range l.runtimes {
		stack := stack
		g.Go(func() error {
			return l.runAccount(gctx, stack)
		})
	}

	err := g.Wait()
	if l.sink != nil {
		if closeErr := l.sink.Close(); closeErr != nil {
			l.logger.Warn("sink-close-failed", zap.Error(closeErr))
		}
	}
	return err
}

func (l *Launcher) runAccount(ctx context.Context, stack *accountStack) error {
	logger := l.logger.With(zap.String("account", stack.label))

	if err := stack.streamer.Start(); err != nil {
		// The feed is an optimization for exits; scanning works
		// without it.
		logger.Warn("streamer-start-failed-continuing-without-feed", zap.Error(err))
	}

	if stack.guard != nil {
		stack.guard.Start(ctx)
	}

	stack.runtime.Start(ctx)

	<-ctx.Done()
	logger.Info("account-shutting-down")

	stack.runtime.Wait()

	if err := stack.store.Flush(); err != nil {
		logger.Error("position-store-flush-failed", zap.Error(err))
	}
	if err := stack.streamer.Close(); err != nil {
		logger.Warn("streamer-close-failed", zap.Error(err))
	}
	for _, client := range stack.clients {
		if err := client.Close(); err != nil {
			logger.Warn("venue-client-close-failed", zap.Error(err))
		}
	}
	if stack.llmCache != nil {
		stack.llmCache.Close()
	}
	stack.metaCache.Close()

	logger.Info("account-shutdown-complete")
	return nil
}
