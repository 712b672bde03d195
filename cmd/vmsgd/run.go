package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ZentaChain/gnutella-vmsg/pkg/api"
	"github.com/ZentaChain/gnutella-vmsg/pkg/config"
	"github.com/ZentaChain/gnutella-vmsg/pkg/crawler"
	"github.com/ZentaChain/gnutella-vmsg/pkg/crypto"
	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/ZentaChain/gnutella-vmsg/pkg/protocol"
	"github.com/ZentaChain/gnutella-vmsg/pkg/proxy"
	"github.com/ZentaChain/gnutella-vmsg/pkg/search"
	"github.com/ZentaChain/gnutella-vmsg/pkg/stats"
	"github.com/ZentaChain/gnutella-vmsg/pkg/storage"
	"github.com/ZentaChain/gnutella-vmsg/pkg/transport"
	"github.com/ZentaChain/gnutella-vmsg/pkg/tsync"
	"github.com/ZentaChain/gnutella-vmsg/pkg/vmsg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const routeCleanupInterval = time.Hour

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	cmd.Flags().Bool("leaf", false, "Run as a leaf")
	cmd.Flags().String("udp", "", "UDP listen address (host:port)")
	cmd.Flags().StringSlice("listen", nil, "libp2p listen multiaddrs")
	cmd.Flags().StringSlice("bootstrap", nil, "p2p multiaddrs of peers to connect to")
	cmd.Flags().String("api", "", "HTTP API listen address")
	cmd.Flags().String("data", "", "Route database path")

	return cmd
}

// applyRunFlags overrides file values with the flags set on the command line
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("leaf") {
		cfg.Node.Leaf, _ = flags.GetBool("leaf")
	}
	if flags.Changed("udp") {
		cfg.Transport.UDPListen, _ = flags.GetString("udp")
	}
	if flags.Changed("listen") {
		cfg.Transport.StreamListen, _ = flags.GetStringSlice("listen")
	}
	if flags.Changed("bootstrap") {
		cfg.Transport.Bootstrap, _ = flags.GetStringSlice("bootstrap")
	}
	if flags.Changed("api") {
		cfg.API.Listen, _ = flags.GetString("api")
	}
	if flags.Changed("data") {
		cfg.Storage.Path, _ = flags.GetString("data")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	guid := protocol.ServentGUID(cfg.Node.GUIDSeed)
	logger.Info("starting node",
		zap.Stringer("guid", guid), zap.Bool("leaf", cfg.Node.Leaf), zap.Stringer("listen", cfg.ListenAddr()))

	key, created, err := crypto.LoadOrGenerate(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load node key: %w", err)
	}
	if created {
		logger.Info("new node key saved", zap.String("path", cfg.Node.KeyPath))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters, err := stats.NewCollector(reg)
	if err != nil {
		return err
	}

	// Push-proxy routes
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewRouteStore(cfg.Storage.Path, cfg.Storage.RouteTTL)
	if err != nil {
		return err
	}
	defer store.Close()

	proxies := proxy.NewTable(proxy.WithStore(store), proxy.WithLogger(logger))
	if n, err := proxies.Load(); err != nil {
		logger.Warn("cannot restore push-proxy routes", zap.Error(err))
	} else if n > 0 {
		logger.Info("restored push-proxy routes", zap.Int("count", n))
	}

	pool := network.NewPool(cfg.Node.MaxNodes)
	defer pool.Close()

	clock := tsync.NewClock(time.Now)
	enc := vmsg.NewEncoder(guid,
		vmsg.WithListenAddr(cfg.ListenAddr),
		vmsg.WithUDPFirewalled(func() bool { return cfg.Node.UDPFirewalled }),
		vmsg.WithEncoderClock(clock.Now),
		vmsg.WithEncoderLogger(logger),
	)

	queries, err := search.NewTable(enc, cfg.Search.MaxQueries, cfg.Search.MaxOOBResults, search.WithLogger(logger))
	if err != nil {
		return err
	}
	estimator := tsync.NewEstimator(enc, clock, tsync.WithNTP(cfg.TimeSync.NTP), tsync.WithLogger(logger))

	// The dispatcher needs the connect-back, which needs the UDP socket,
	// which hands datagrams to the dispatcher.
	var dispatcher *vmsg.Dispatcher
	handler := network.HandlerFunc(func(c vmsg.Conn, h *protocol.Header, payload []byte) error {
		return dispatcher.Handle(c, h, payload)
	})

	var (
		udp      *transport.UDPListener
		datagram network.DatagramWriter
	)
	if cfg.Transport.UDPListen != "" {
		if udp, err = transport.ListenUDP(cfg.Transport.UDPListen, pool, handler, logger); err != nil {
			return err
		}
		defer udp.Close()
		datagram = udp
		logger.Info("UDP listening", zap.Stringer("addr", udp.LocalAddr()))
	}

	connectBack := network.NewConnectBack(datagram, logger)
	defer connectBack.Close()

	dispatcher = vmsg.NewDispatcher(enc,
		vmsg.WithStats(counters),
		vmsg.WithSearch(queries),
		vmsg.WithDynamicQuery(queries),
		vmsg.WithPushProxies(proxies),
		vmsg.WithClockSync(estimator),
		vmsg.WithCrawler(crawler.NewResponder(crawler.PoolSource{Pool: pool}, cfg.Node.UserAgent, crawler.WithLogger(logger))),
		vmsg.WithConnectBack(connectBack),
		vmsg.WithClock(clock.Now),
		vmsg.WithLogger(logger),
	)

	host, err := transport.NewStreamHost(ctx, transport.StreamConfig{
		ListenAddrs: cfg.Transport.StreamListen,
		PrivateKey:  key,
		Leaf:        cfg.Node.Leaf,
		UserAgent:   cfg.Node.UserAgent,
		Locale:      cfg.Node.Locale,
		OnConnect: func(n *network.Node) {
			greet(enc, n, cfg.Node.Leaf, logger)
		},
		OnDisconnect: func(n *network.Node) {
			proxies.Remove(n, false)
			estimator.Forget(n.ID())
		},
		Logger: logger,
	}, pool, handler)
	if err != nil {
		return err
	}
	defer host.Close()

	for _, addr := range host.Addrs() {
		logger.Info("libp2p listening", zap.String("addr", addr))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(estimator.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(store.Run(ctx, routeCleanupInterval, logger)) })
	g.Go(func() error {
		timeSyncLoop(ctx, estimator, pool, cfg.TimeSync.Interval)
		return nil
	})

	if udp != nil {
		g.Go(func() error { return ignoreCanceled(udp.Serve(ctx)) })
	}

	if cfg.API.Listen != "" {
		apiCfg := api.DefaultConfig()
		apiCfg.Listen = cfg.API.Listen
		server := api.NewServer(api.Sources{
			Registry: dispatcher.Registry(),
			Stats:    counters,
			Pool:     pool,
			TimeSync: estimator,
			Clock:    clock,
			Proxies:  proxies,
			Gatherer: reg,
		}, apiCfg, logger)
		g.Go(func() error { return server.Start(ctx) })
	}

	for _, addr := range cfg.Transport.Bootstrap {
		g.Go(func() error {
			host.Keep(ctx, addr)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("node stopped", zap.Error(err))
	return err
}

// greet advertises our vendor messages to a new node. Leaves also ask
// their ultrapeers to act as push-proxies.
func greet(enc *vmsg.Encoder, n *network.Node, leaf bool, logger *zap.Logger) {
	enc.SendMessagesSupported(n)
	enc.SendFeaturesSupported(n, nil)

	if leaf && !n.IsLeaf() {
		if _, err := enc.SendProxyRequest(n); err != nil {
			logger.Debug("no push-proxy request", zap.Stringer("node", n), zap.Error(err))
		}
	}
}

// timeSyncLoop periodically synchronizes with the nodes supporting it
func timeSyncLoop(ctx context.Context, e *tsync.Estimator, pool *network.Pool, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range pool.Nodes() {
				if n.Attr().Has(vmsg.AttrTimeSync) {
					e.Request(n)
				}
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
