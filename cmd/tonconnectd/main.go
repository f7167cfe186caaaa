package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/buildinfo"
	"github.com/textileio/go-tonconnect/internal/ingress"
	"github.com/textileio/go-tonconnect/internal/pending"
	"github.com/textileio/go-tonconnect/internal/router"
	"github.com/textileio/go-tonconnect/pkg/backup"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	bridgeimpl "github.com/textileio/go-tonconnect/pkg/bridge/impl"
	"github.com/textileio/go-tonconnect/pkg/eventprocessor"
	epimpl "github.com/textileio/go-tonconnect/pkg/eventprocessor/impl"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	erimpl "github.com/textileio/go-tonconnect/pkg/eventrouter/impl"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	esimpl "github.com/textileio/go-tonconnect/pkg/eventstore/impl"
	"github.com/textileio/go-tonconnect/pkg/logging"
	"github.com/textileio/go-tonconnect/pkg/manifest"
	"github.com/textileio/go-tonconnect/pkg/metrics"
	rpimpl "github.com/textileio/go-tonconnect/pkg/requestprocessor/impl"
	sessionimpl "github.com/textileio/go-tonconnect/pkg/session/impl"
	"github.com/textileio/go-tonconnect/pkg/storage"
	storageimpl "github.com/textileio/go-tonconnect/pkg/storage/impl"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/postgres"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/redis"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/sqlite"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
	walletimpl "github.com/textileio/go-tonconnect/pkg/wallet/impl"
)

func main() {
	cfg := setupConfig()
	if err := logging.SetupLogger(buildinfo.GitCommit, cfg.Log.Level, cfg.Log.Human); err != nil {
		log.Fatal().Err(err).Msg("setting up logger")
	}

	metricsServer, err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "tonconnectd", buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	// Storage.
	adapter, err := createStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("creating storage")
	}
	codec, err := storage.CodecByName(cfg.Storage.Codec)
	if err != nil {
		log.Fatal().Err(err).Msg("getting storage codec")
	}
	store, err := esimpl.New(adapter, eventstore.WithCodec(codec))
	if err != nil {
		log.Fatal().Err(err).Msg("creating event store")
	}
	instrStore, err := esimpl.NewInstrumentedEventStore(store)
	if err != nil {
		log.Fatal().Err(err).Msg("instrumenting event store")
	}
	sessions := sessionimpl.NewManager(adapter, codec)

	// Wallets.
	chainClient := walletimpl.NewToncenterClient(cfg.Toncenter.URL, walletimpl.WithAPIKey(cfg.Toncenter.APIKey))
	wallets := wallet.NewManager()
	for i, wc := range cfg.Wallets {
		network, err := parseNetwork(wc.Network)
		if err != nil {
			log.Fatal().Err(err).Int("wallet", i).Msg("parsing wallet network")
		}
		w, err := walletimpl.NewLocalWallet(wc.Seed, network, chainClient)
		if err != nil {
			log.Fatal().Err(err).Int("wallet", i).Msg("creating wallet")
		}
		addr, err := wallets.Register(w)
		if err != nil {
			log.Fatal().Err(err).Int("wallet", i).Msg("registering wallet")
		}
		log.Info().Str("address", addr).Str("network", string(network)).Msg("wallet registered")
	}

	// Ingress and bridge.
	in := ingress.New(instrStore, sessions)
	var (
		br       bridge.Bridge
		httpBr   *bridgeimpl.HTTPBridge
		callback = eventrouter.NewCallbacks()
	)
	switch cfg.Bridge.Mode {
	case "http":
		httpBr, err = bridgeimpl.NewHTTPBridge(sessions, in,
			bridge.WithURL(cfg.Bridge.URL),
			bridge.WithTTL(mustParseDuration("bridge ttl", cfg.Bridge.TTL)),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("creating http bridge")
		}
		in.RefreshTo(httpBr)
		callback.OnDisconnect(func(_ context.Context, _ eventrouter.DisconnectEvent) error {
			httpBr.Refresh()
			return nil
		})
		br = httpBr
	case "loopback":
		br = bridgeimpl.NewLoopback(in)
	default:
		log.Fatal().Str("mode", cfg.Bridge.Mode).Msg("unknown bridge mode")
	}

	// Routing and user decisions.
	queue := pending.NewQueue(mustParseDuration("pending ttl", cfg.Pending.TTL))
	queue.Register(callback)
	eventRouter, err := erimpl.New(wallets, sessions, br, manifest.NewHTTPFetcher(10*time.Second), chainClient, callback)
	if err != nil {
		log.Fatal().Err(err).Msg("creating event router")
	}
	processor, err := rpimpl.New(wallets, sessions, br)
	if err != nil {
		log.Fatal().Err(err).Msg("creating request processor")
	}

	// Event processing.
	ep, err := epimpl.New(instrStore, eventRouter, sessions, wallets, processorOptions(cfg)...)
	if err != nil {
		log.Fatal().Err(err).Msg("creating event processor")
	}
	in.NotifyTo(ep)
	if err := ep.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting event processor")
	}
	if err := ep.StartNoWalletProcessing(); err != nil {
		log.Fatal().Err(err).Msg("starting connect processing")
	}
	for _, addr := range wallets.Addresses() {
		if err := ep.StartProcessing(addr); err != nil {
			log.Fatal().Err(err).Str("address", addr).Msg("starting wallet processing")
		}
	}
	if httpBr != nil {
		if err := httpBr.Start(); err != nil {
			log.Fatal().Err(err).Msg("starting http bridge")
		}
	}

	var wg sync.WaitGroup
	if cfg.Backup.Enabled {
		if cfg.Storage.Backend != "sqlite" {
			log.Fatal().Str("backend", cfg.Storage.Backend).Msg("backups are only supported with the sqlite backend")
		}
		snapshotter, err := backup.NewSnapshotter(cfg.Storage.SQLitePath, cfg.Backup.Dir,
			backup.WithCompression(cfg.Backup.Compression),
			backup.WithVacuum(cfg.Backup.Vacuum),
			backup.WithKeepFiles(cfg.Backup.KeepFiles),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("creating snapshotter")
		}
		scheduler := backup.NewScheduler(mustParseDuration("backup frequency", cfg.Backup.Frequency), snapshotter, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	// HTTP API.
	apiRouter, err := router.ConfiguredRouter(router.Config{
		MaxRPI:          cfg.HTTP.MaxRequestPerIP,
		RateLimInterval: mustParseDuration("rate limit interval", cfg.HTTP.RateLimInterval),
		APIKeys:         cfg.HTTP.APIKeys,
	}, router.Services{
		Ingress:   in,
		Store:     instrStore,
		Sessions:  sessions,
		Pending:   queue,
		Processor: processor,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configuring router")
	}
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           apiRouter.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("serving http api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("port", cfg.HTTP.Port).Msg("could not start server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down http server")
	}
	if httpBr != nil {
		httpBr.Stop()
	}
	ep.Stop()
	wg.Wait()
	if err := adapter.Close(); err != nil {
		log.Error().Err(err).Msg("closing storage")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutting down metrics server")
		}
	}
	log.Info().Msg("daemon closed")
}

func createStorage(ctx context.Context, cfg *config) (storage.Adapter, error) {
	var (
		adapter storage.Adapter
		err     error
	)
	switch cfg.Storage.Backend {
	case "memory":
		adapter = memory.New()
	case "sqlite":
		adapter, err = sqlite.New(cfg.Storage.SQLitePath, sqlite.WithCompression(cfg.Storage.Compression))
	case "redis":
		adapter, err = redis.New(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisPrefix)
	case "postgres":
		adapter, err = postgres.New(ctx, cfg.Storage.PostgresDSN, cfg.Storage.PGTable, cfg.Storage.PGMaxConns)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %s", cfg.Storage.Backend, err)
	}
	return storageimpl.NewInstrumentedAdapter(adapter, cfg.Storage.Backend)
}

func processorOptions(cfg *config) []eventprocessor.Option {
	pc := cfg.Processor
	opts := []eventprocessor.Option{
		eventprocessor.WithMaxRetries(pc.MaxRetries),
		eventprocessor.WithRetryDelay(mustParseDuration("retry delay", pc.RetryDelay)),
		eventprocessor.WithProcessingTimeout(mustParseDuration("processing timeout", pc.ProcessingTimeout)),
		eventprocessor.WithRecoveryInterval(mustParseDuration("recovery interval", pc.RecoveryInterval)),
		eventprocessor.WithRetention(mustParseDuration("retention", pc.Retention)),
		eventprocessor.WithCleanupInterval(mustParseDuration("cleanup interval", pc.CleanupInterval)),
	}
	if len(pc.EnabledEventTypes) > 0 {
		types := make([]tonconnect.EventType, len(pc.EnabledEventTypes))
		for i, t := range pc.EnabledEventTypes {
			types[i] = tonconnect.EventType(t)
		}
		opts = append(opts, eventprocessor.WithEnabledEventTypes(types...))
	}
	if pc.WebhookURL != "" {
		opts = append(opts, eventprocessor.WithWebhook(pc.WebhookURL))
	}
	return opts
}

func parseNetwork(network string) (tonconnect.Chain, error) {
	switch network {
	case "", "mainnet":
		return tonconnect.ChainMainnet, nil
	case "testnet":
		return tonconnect.ChainTestnet, nil
	default:
		return "", fmt.Errorf("%s is not a valid network", network)
	}
}
