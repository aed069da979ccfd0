// Command counterd is the long-lived host: it owns the counter and serves it to clients that
// present its identity on the port-rpc channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"port-rpc/config"
	"port-rpc/counter"
	"port-rpc/discovery"
	"port-rpc/logging"
	"port-rpc/metrics"
	"port-rpc/middleware"
	"port-rpc/server"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	identity := flag.String("identity", "", "Identity override; printed at start when generated")
	flag.Parse()
	if *showVersion {
		fmt.Printf("counterd version=%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *identity != "" {
		cfg.Identity = *identity
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("counterd failed", zap.Error(err))
	}
	logger.Info("counterd stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewHost(reg)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithHandshakeTimeout(cfg.HandshakeTimeout),
	}
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.EtcdTimeout, logger.Named("discovery"))
		if err != nil {
			return err
		}
		defer etcd.Close()
		opts = append(opts, server.WithDiscovery(etcd, discovery.Instance{}, cfg.AdvertiseTTL))
	}

	srv := server.NewServer(cfg.ChannelName, cfg.Identity, opts...)
	if err := srv.Register(counter.NewService()); err != nil {
		return err
	}
	srv.Use(middleware.LoggingMiddleware(logger.Named("call")))
	srv.Use(middleware.MetricsMiddleware(m))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(srv.Procedures().Names(), cfg.RateLimit, cfg.RateBurst))
	}
	logger.Info("counterd starting",
		zap.String("channel", cfg.ChannelName),
		zap.String("identity", srv.Identity()),
		zap.Strings("procedures", srv.Procedures().Names()))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	var httpServers []*http.Server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("stream listener up", zap.Stringer("addr", ln.Addr()))
		return srv.ServeListener(ln)
	})
	if cfg.WSAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/rpc/", srv.WebSocketHandler())
		hs := &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		httpServers = append(httpServers, hs)
		if err := srv.AdvertiseWebSocket("ws://" + cfg.WSAddr + "/rpc"); err != nil {
			logger.Warn("advertise websocket failed", zap.Error(err))
		}
		g.Go(func() error { return listenAndServe(hs) })
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		httpServers = append(httpServers, hs)
		g.Go(func() error { return listenAndServe(hs) })
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		for _, hs := range httpServers {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			hs.Shutdown(shutdownCtx)
			cancel()
		}
		return srv.Shutdown(5 * time.Second)
	})
	return g.Wait()
}

func listenAndServe(hs *http.Server) error {
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
