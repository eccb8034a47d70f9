package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/gamenet/admin"
	"github.com/cyberinferno/gamenet/cacher"
	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/metrics"
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/resolver"
	"github.com/cyberinferno/gamenet/tcpserver"
)

const serviceName = "gamenetd"

type serveOptions struct {
	name         string
	port         int
	maxSockets   int
	subnet       string
	mask         string
	idleTimeout  time.Duration
	pollInterval time.Duration
	logDir       string
	logLevel     string
	adminAddr    string
	redisAddr    string
	resolvePeers bool
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the socket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	def := netsocket.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "gamenet", "Server name used in logs, metrics and the status page")
	f.IntVarP(&opts.port, "port", "p", 15779, "TCP port to listen on")
	f.IntVar(&opts.maxSockets, "max-sockets", def.MaxOpenSockets, "Maximum open connections, 0 for no limit")
	f.StringVar(&opts.subnet, "subnet", "", "Trusted subnet address, e.g. 10.0.0.0")
	f.StringVar(&opts.mask, "mask", "255.255.255.0", "Trusted subnet mask")
	f.DurationVar(&opts.idleTimeout, "idle-timeout", def.IdleTimeout, "Idle timeout per connection, 0 to disable")
	f.DurationVar(&opts.pollInterval, "poll-interval", 100*time.Millisecond, "Longest single poll wait")
	f.StringVar(&opts.logDir, "log-dir", "", "Write daily rotated log files here in addition to stdout")
	f.StringVar(&opts.logLevel, "log-level", "info", "Minimum log level")
	f.StringVar(&opts.adminAddr, "admin-addr", "127.0.0.1:9100", "Admin HTTP address, empty to disable")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Share the resolver cache through this redis server")
	f.BoolVar(&opts.resolvePeers, "resolve-peers", false, "Log the reverse DNS name of each accepted peer")

	return cmd
}

func newLogger(dir, level string) (logger.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	if dir == "" {
		return logger.NewConsoleLogger(os.Stdout, serviceName, lvl), nil
	}

	return logger.NewZerologFileLogger(serviceName, dir, lvl)
}

// newResolver builds a resolver whose cache lives in redis when addr is set.
func newResolver(addr string, log logger.Logger) (*resolver.Resolver, func() error) {
	if addr == "" {
		return resolver.New(nil, nil, 0, log), func() error { return nil }
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	c := cacher.NewRedisCacher[string](client, serviceName+":resolver:")
	return resolver.New(nil, c, 0, log), client.Close
}

func runServe(ctx context.Context, opts serveOptions) error {
	log, err := newLogger(opts.logDir, opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := tcpserver.DefaultConfig(opts.name, opts.port)
	cfg.PollInterval = opts.pollInterval
	cfg.Manager.MaxOpenSockets = opts.maxSockets
	cfg.Manager.IdleTimeout = opts.idleTimeout
	cfg.Manager.Observer = metrics.New(metrics.Config{
		Registry:    reg,
		ConstLabels: prometheus.Labels{"server": opts.name},
	})

	if opts.subnet != "" {
		subnet, err := netsocket.ParseSubnet(opts.subnet, opts.mask)
		if err != nil {
			return err
		}
		cfg.Manager.TrustedSubnet = subnet
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	names, closeNames := newResolver(opts.redisAddr, log)
	defer closeNames()

	var srv *tcpserver.TCPServer
	stats := func() netsocket.Stats { return srv.Stats() }
	newSession := newSessionFunc(opts.name, stats, log)
	if opts.resolvePeers {
		newSession = resolvingSessionFunc(ctx, names, newSession, log)
	}

	srv, err = tcpserver.New(cfg, newSession, log)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	go rotateOnHangup(ctx, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if opts.adminAddr != "" {
		a := admin.New(srv.Manager, reg, log)
		g.Go(func() error {
			return a.ListenAndServe(gctx, opts.adminAddr)
		})
	}

	return g.Wait()
}

// rotateOnHangup starts a new log file on every SIGHUP.
func rotateOnHangup(ctx context.Context, log logger.Logger) {
	w, ok := logger.FileWriter(log)
	if !ok {
		return
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.ForceRotate(); err != nil {
				log.Error("log rotation failed", logger.Field{Key: "error", Value: err.Error()})
				continue
			}
			log.Info("log rotated", logger.Field{Key: "file", Value: w.CurrentLogFile()})
		}
	}
}
