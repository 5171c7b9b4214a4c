package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/polycopy/polycopy/internal/crypto"
	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/ingest"
	"github.com/polycopy/polycopy/internal/notify"
	"github.com/polycopy/polycopy/internal/platform/goldsky"
	"github.com/polycopy/polycopy/internal/platform/polymarket"
	"github.com/polycopy/polycopy/internal/replicate"
)

// tradeBuffer sizes the ingestor-to-replicator channel. Admission is fast
// (one conditional insert), so a small buffer absorbs poll bursts.
const tradeBuffer = 128

// ReplicateMode runs the full copy-trading pipeline: recovery of pending
// orders left over from a previous run, then fill ingestion feeding the
// replicator until the context is cancelled.
func (a *App) ReplicateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replicate mode",
		slog.String("target", a.cfg.Replication.TargetActorAddress),
		slog.String("feed_source", a.cfg.Replication.FeedSource),
		slog.Bool("simulated", a.cfg.Execution.Simulated),
	)

	exec, clob, err := a.buildExecutor(ctx, deps)
	if err != nil {
		return fmt.Errorf("replicate mode: %w", err)
	}

	coord := replicate.NewRetryCoordinator(
		deps.Ledger,
		exec,
		a.cfg.Replication.RetryLimit,
		a.cfg.Replication.BackoffInterval(),
		deps.Notifier,
		a.logger,
	)

	// Replay orders left pending by a crash or shutdown before new fills
	// start flowing, so recovered and fresh executions never interleave for
	// the same trade.
	sweeper := replicate.NewRecoverySweeper(deps.Ledger, deps.LockManager, coord, a.logger)
	if err := sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("replicate mode: recovery sweep: %w", err)
	}

	source, err := a.buildFeedSource(ctx, deps, clob)
	if err != nil {
		return fmt.Errorf("replicate mode: %w", err)
	}

	ingestor := ingest.NewIngestor(
		source,
		deps.Ledger,
		deps.Resolver,
		a.cfg.Replication.TargetActorAddress,
		a.cfg.Replication.MaxTradeAge(),
		a.logger,
	)

	sizer := replicate.NewPositionSizer(
		a.cfg.Replication.CopyRatio,
		a.cfg.Replication.MinOrderSize,
		a.cfg.Replication.TickSize,
	)
	replicator := replicate.NewReplicator(deps.Ledger, sizer, coord, a.logger)

	_ = deps.Notifier.Notify(ctx, notify.EventStartup, "replicator started",
		fmt.Sprintf("copying %s at ratio %g", a.cfg.Replication.TargetActorAddress, a.cfg.Replication.CopyRatio))

	trades := make(chan domain.Trade, tradeBuffer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestor.Run(ctx, trades)
	})
	g.Go(func() error {
		return replicator.Run(ctx, trades)
	})
	return g.Wait()
}

// MonitorMode runs ingestion only: the target's fills are normalized and
// logged but no orders are placed and nothing new is written to the ledger.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("target", a.cfg.Replication.TargetActorAddress),
		slog.String("feed_source", a.cfg.Replication.FeedSource),
	)

	source, err := a.buildFeedSource(ctx, deps, nil)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	ingestor := ingest.NewIngestor(
		source,
		deps.Ledger,
		deps.Resolver,
		a.cfg.Replication.TargetActorAddress,
		a.cfg.Replication.MaxTradeAge(),
		a.logger,
	)

	trades := make(chan domain.Trade, tradeBuffer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestor.Run(ctx, trades)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case trade, ok := <-trades:
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "observed target trade",
					slog.String("trade_id", trade.TradeID),
					slog.String("market_id", trade.MarketID),
					slog.String("side", string(trade.Side)),
					slog.Float64("price", trade.Price),
					slog.Float64("size", trade.Size),
				)
			}
		}
	})
	return g.Wait()
}

// buildExecutor returns the venue executor for the configured execution
// settings. In live mode it also returns the authenticated CLOB client so
// the websocket feed can reuse its credentials.
func (a *App) buildExecutor(ctx context.Context, deps *Dependencies) (replicate.VenueExecutor, *polymarket.ClobClient, error) {
	if a.cfg.Execution.Simulated {
		a.logger.InfoContext(ctx, "simulated execution enabled, no orders will reach the venue")
		return replicate.NewSimulatedExecutor(a.logger), nil, nil
	}

	clob, err := a.buildClobClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return replicate.NewClobExecutor(clob, deps.RateLimiter, a.logger), clob, nil
}

// buildClobClient creates an authenticated CLOB client: signer from the
// wallet key, HMAC credentials from config or derived via the L1 auth flow.
func (a *App) buildClobClient(ctx context.Context) (*polymarket.ClobClient, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	var hmac *crypto.HMACAuth
	if a.cfg.Polymarket.ApiKey != "" {
		hmac = &crypto.HMACAuth{
			Key:        a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.ApiPassphrase,
		}
	}

	clob := polymarket.NewClobClient(
		a.cfg.Polymarket.ClobHost,
		signer,
		hmac,
		a.cfg.Wallet.ProxyAddress,
		a.cfg.Polymarket.SignatureType,
	)

	if !clob.HasCredentials() {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("derive API key: %w", err)
		}
		a.logger.InfoContext(ctx, "derived CLOB API credentials",
			slog.String("address", signer.Address().Hex()),
		)
	}

	return clob, nil
}

// buildFeedSource selects the fill feed adapter. clob may be nil; it is only
// consulted for credentials when the websocket feed has none configured.
func (a *App) buildFeedSource(ctx context.Context, deps *Dependencies, clob *polymarket.ClobClient) (ingest.FillSource, error) {
	switch strings.ToLower(a.cfg.Replication.FeedSource) {
	case "goldsky":
		client := goldsky.NewClient(a.cfg.Goldsky.GraphqlURL, a.cfg.Goldsky.ApiKey)
		return ingest.NewGoldskySource(
			client,
			a.cfg.Replication.TargetActorAddress,
			a.cfg.Replication.FetchInterval(),
			deps.Archiver,
			a.logger,
		), nil

	case "websocket":
		auth, err := a.websocketAuth(ctx, clob)
		if err != nil {
			return nil, fmt.Errorf("websocket feed: %w", err)
		}
		ws := polymarket.NewUserWSClient(a.cfg.Polymarket.WsHost, auth)
		return ingest.NewWSSource(ws, a.logger), nil

	default:
		return nil, fmt.Errorf("unknown feed source %q", a.cfg.Replication.FeedSource)
	}
}

// websocketAuth resolves credentials for the user websocket channel:
// configured API credentials first, then the CLOB client's derived ones.
func (a *App) websocketAuth(ctx context.Context, clob *polymarket.ClobClient) (polymarket.WSAuth, error) {
	if a.cfg.Polymarket.ApiKey != "" {
		return polymarket.WSAuth{
			APIKey:     a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.ApiPassphrase,
		}, nil
	}

	if clob == nil {
		var err error
		clob, err = a.buildClobClient(ctx)
		if err != nil {
			return polymarket.WSAuth{}, err
		}
	}
	creds := clob.Credentials()
	if creds == nil {
		return polymarket.WSAuth{}, fmt.Errorf("no API credentials available")
	}
	return polymarket.WSAuth{
		APIKey:     creds.Key,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	}, nil
}
