package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/taskgroup"
	"github.com/spf13/cobra"

	"github.com/StrathCole/flux-aggregator/pkg/agent"
	"github.com/StrathCole/flux-aggregator/pkg/config"
	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux/store"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
	"github.com/StrathCole/flux-aggregator/pkg/quote"
	"github.com/StrathCole/flux-aggregator/pkg/server/aggregator"
	"github.com/StrathCole/flux-aggregator/pkg/server/api"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
	"github.com/StrathCole/flux-aggregator/pkg/timer"
	"github.com/StrathCole/flux-aggregator/pkg/version"

	// Import sources to register them
	_ "github.com/StrathCole/flux-aggregator/pkg/server/sources/binance"
	_ "github.com/StrathCole/flux-aggregator/pkg/server/sources/fixed"
	_ "github.com/StrathCole/flux-aggregator/pkg/server/sources/jsonapi"
)

func startCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the feeds, the API and the configured agents",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, logging.FileOptions{
				MaxSize:    cfg.Logging.File.MaxSize,
				MaxBackups: cfg.Logging.File.MaxBackups,
				MaxAge:     cfg.Logging.File.MaxAge,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logging.SetGlobal(logger)
			logger.Info("Starting flux-aggregator", "version", version.Version, "mode", cfg.Mode)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Override the configured mode (both, server, agent)")
	return cmd
}

// daemon holds the wired components of one process.
type daemon struct {
	cfg      *config.Config
	logger   *logging.Logger
	db       *store.DB
	feeds    *feed.Registry
	sources  []sources.Source
	observer *aggregator.Observer
	server   *api.Server
	ws       *api.WebSocketServer
	agents   []*agent.Agent
	closers  []func()
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger, feeds: feed.NewRegistry()}

	if cfg.IsServerMode() {
		if err := d.setupFeeds(); err != nil {
			d.Close()
			return nil, err
		}
	}
	if err := d.setupSources(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if cfg.IsServerMode() {
		if err := d.setupServer(); err != nil {
			d.Close()
			return nil, err
		}
	}
	if cfg.IsAgentMode() {
		if err := d.setupAgents(); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *daemon) signingKey() (*ecdsa.PrivateKey, error) {
	q := d.cfg.Quote
	if q.KeyEnv != "" {
		hexKey, err := config.Env(q.KeyEnv)
		if err != nil {
			return nil, err
		}
		return quote.LoadKeyHex(hexKey)
	}
	mnemonic, err := config.Env(q.MnemonicEnv)
	if err != nil {
		return nil, err
	}
	return quote.KeyFromMnemonic(mnemonic, q.HDPath)
}

func (d *daemon) setupFeeds() error {
	key, err := d.signingKey()
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	signer := quote.NewSigner(key)
	d.logger.Info("Loaded quote signing key", "address", signer.Address().Hex())

	if d.cfg.Storage.Type == config.StorageBadger {
		if d.db, err = store.OpenBadger(d.cfg.Storage.Path, d.logger); err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
	}

	for _, fc := range d.cfg.Feeds {
		fluxCfg, err := fc.FluxConfig()
		if err != nil {
			return err
		}

		deps := feed.Deps{Timer: timer.Wall{}, Authenticator: signer, Logger: d.logger}
		if d.db != nil {
			deps.Backend = d.db.Feed(fc.Name)
		} else {
			deps.Backend = store.NewMemory()
		}

		f, err := feed.New(fluxCfg, deps)
		if err != nil {
			return fmt.Errorf("feed %s: %w", fc.Name, err)
		}
		for _, oc := range fc.Oracles {
			if _, err := f.Oracle(oc.ID); err == nil {
				continue // restored from storage
			}
			if _, err := f.InitOracle(oc.ID); err != nil {
				return fmt.Errorf("feed %s: oracle %s: %w", fc.Name, oc.ID, err)
			}
		}
		if err := d.feeds.Add(f); err != nil {
			return err
		}
		d.logger.Info("Feed ready", "feed", fc.Name, "oracles", f.OracleCount())
	}
	return nil
}

func (d *daemon) setupSources(ctx context.Context) error {
	enabled := d.cfg.EnabledSources()
	if len(enabled) == 0 {
		return nil
	}

	for _, sourceCfg := range enabled {
		if sourceCfg.Config == nil {
			sourceCfg.Config = make(map[string]interface{})
		}
		sourceCfg.Config["logger"] = d.logger

		source, err := sources.Create(sourceCfg.Type, sourceCfg.Name, sourceCfg.Config)
		if err != nil {
			d.logger.Warn("Failed to create source", "type", sourceCfg.Type, "name", sourceCfg.Name, "error", err)
			continue
		}
		if err := source.Initialize(ctx); err != nil {
			d.logger.Warn("Failed to initialize source", "source", source.Name(), "error", err)
			continue
		}
		if err := source.Start(ctx); err != nil {
			d.logger.Warn("Failed to start source", "source", source.Name(), "error", err)
			continue
		}
		d.sources = append(d.sources, source)
		d.logger.Info("Source started", "source", source.Name(), "symbols", source.Symbols(), "weight", sourceCfg.Weight)
	}
	if len(d.sources) == 0 {
		return errors.New("no sources available")
	}

	agg, err := aggregator.NewAggregator(d.cfg.AggregateMode, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}
	d.observer = aggregator.NewObserver(d.sources, agg, d.cfg.SourceWeights(), d.logger)
	return nil
}

func (d *daemon) setupServer() error {
	opts := api.Options{
		Observer:       d.observer,
		AllowedOrigins: d.cfg.Server.HTTP.AllowedOrigins,
	}
	if tls := d.cfg.Server.HTTP.TLS; tls.Enabled {
		opts.TLSCert, opts.TLSKey = tls.Cert, tls.Key
	}
	if d.cfg.Server.WebSocket.Enabled {
		d.ws = api.NewWebSocketServer(d.feeds, d.logger)
		opts.WebSocket = d.ws
	}
	d.server = api.NewServer(d.cfg.Server.HTTP.Addr, d.feeds, d.logger, opts)

	for _, fc := range d.cfg.Feeds {
		for _, oc := range fc.Oracles {
			if oc.TokenEnv == "" {
				continue
			}
			token, err := config.Env(oc.TokenEnv)
			if err != nil {
				return fmt.Errorf("feed %s: oracle %s: %w", fc.Name, oc.ID, err)
			}
			d.server.SetOracleToken(fc.Name, oc.ID, token)
		}
	}
	return nil
}

func (d *daemon) setupAgents() error {
	for _, ac := range d.cfg.Agents {
		cfg := agent.Config{
			Oracle:       ac.Oracle,
			Feed:         ac.Feed,
			Symbol:       ac.Symbol,
			Decimals:     ac.Decimals,
			PollInterval: ac.PollInterval.ToDuration(),
			Deviation:    agent.DeviationThresholds{Rel: ac.Deviation.Relative, Abs: ac.Deviation.Absolute},
		}

		var client agent.Client

		if ac.Endpoint == "" {
			f, err := d.feeds.Get(ac.Feed)
			if err != nil {
				return fmt.Errorf("agent %s: %w", ac.Oracle, err)
			}
			kit, err := f.Oracle(ac.Oracle)
			if err != nil {
				return fmt.Errorf("agent %s: %w", ac.Oracle, err)
			}
			params := f.Manager().Params()
			cfg.MinSubmissionValue, cfg.MaxSubmissionValue = params.MinSubmissionValue, params.MaxSubmissionValue
			client = kit.Oracle
		} else {
			var err error
			if cfg.MinSubmissionValue, err = config.ParseNatural("min_submission_value", ac.MinSubmissionValue); err != nil {
				return err
			}
			if cfg.MaxSubmissionValue, err = config.ParseNatural("max_submission_value", ac.MaxSubmissionValue); err != nil {
				return err
			}
			var token string
			if ac.TokenEnv != "" {
				if token, err = config.Env(ac.TokenEnv); err != nil {
					return fmt.Errorf("agent %s: %w", ac.Oracle, err)
				}
			}
			client = agent.NewHTTPClient(ac.Endpoint, ac.Feed, ac.Oracle, token, 0)
		}

		a, err := agent.New(cfg, client, agent.SourceObserver(d.observer), d.logger)
		if err != nil {
			return fmt.Errorf("agent %s: %w", ac.Oracle, err)
		}
		if ac.Endpoint == "" {
			f, _ := d.feeds.Get(ac.Feed)
			sub := f.WatchLatestRounds()
			a.SetRoundNotifications(sub.C())
			d.closers = append(d.closers, sub.Close)
		}
		d.agents = append(d.agents, a)
	}
	return nil
}

// Run runs every component until ctx is cancelled or one of them fails.
func (d *daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := taskgroup.New(nil)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(ctx)
			if err != nil {
				d.logger.Error("Component failed", "component", name, "error", err)
				cancel()
			}
			return err
		})
	}

	if d.cfg.Metrics.Enabled {
		metrics.Init()
		run("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, d.cfg.Metrics.Addr, d.cfg.Metrics.Path)
		})
	}
	for _, f := range d.feeds.All() {
		run("feed:"+f.Name(), f.Run)
	}
	if d.ws != nil {
		run("websocket", d.ws.Run)
	}
	if d.server != nil {
		run("api", d.server.Start)
	}
	for i, a := range d.agents {
		run(fmt.Sprintf("agent:%d", i), a.Run)
	}

	<-ctx.Done()
	d.logger.Info("Shutting down")
	return g.Wait()
}

// Close stops sources and releases storage.
func (d *daemon) Close() {
	for _, c := range d.closers {
		c()
	}
	d.closers = nil
	for _, source := range d.sources {
		if err := source.Stop(); err != nil {
			d.logger.Warn("Failed to stop source", "source", source.Name(), "error", err)
		}
	}
	d.sources = nil
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
}
