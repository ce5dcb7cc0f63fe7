package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/sauerbraten/fallbackauth/internal/admin"
	"github.com/sauerbraten/fallbackauth/internal/fallback"
	"github.com/sauerbraten/fallbackauth/internal/keys"
	"github.com/sauerbraten/fallbackauth/internal/keysync"
	"github.com/sauerbraten/fallbackauth/internal/masterserver"
	"github.com/sauerbraten/fallbackauth/internal/metrics"
	"github.com/sauerbraten/fallbackauth/internal/peer"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/internal/ratelimit"
)

const (
	keysFile     = "profile-keys.json"
	profilesFile = "game-profiles.json"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config.json", "path to the config file (JSON or YAML)")
	flag.Parse()

	conf, err := LoadConfig(*configPath)
	if err != nil {
		fatal("could not load config", err)
	}

	log := newLogger(os.Stderr, conf)
	slog.SetDefault(log)

	ks, err := keys.New(conf.Keys, keys.WithLogger(log), keys.WithFile(filepath.Join(conf.DataDir, keysFile)))
	if err != nil {
		fatal("could not load keys", err)
	}
	pc, err := profiles.New(conf.Profiles, profiles.WithLogger(log), profiles.WithFile(filepath.Join(conf.DataDir, profilesFile)))
	if err != nil {
		fatal("could not load profiles", err)
	}
	limiter, err := ratelimit.New(conf.RateLimit)
	if err != nil {
		fatal("could not set up rate limiter", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.WatchSize("cached_profiles", "Profiles in the profile cache.", pc.Len)
	m.WatchSize("players_with_keys", "Players with at least one stored public key.", ks.Len)
	m.WatchSize("rate_limit_buckets", "Addresses tracked by the rate limiter.", limiter.Len)

	skip := peer.NewSkipSet()
	authOpts := []fallback.Option{
		fallback.WithRateLimiter(limiter),
		fallback.WithMetrics(m),
		fallback.WithLogger(log),
	}

	var ms *masterserver.MasterServer
	if conf.MasterServer.Address != "" {
		ms, err = masterserver.NewMaster(conf.MasterServer, conf.ListenPort, log)
		if err != nil {
			log.Warn("could not connect to master server", "error", err)
		} else {
			authOpts = append(authOpts, fallback.WithNameResolver(ms))
			unsubscribe := pc.Subscribe(func(p profiles.Profile) { ms.Invalidate(p.Name) })
			defer unsubscribe()
		}
	}

	a, err := fallback.New(conf.Fallback, pc, ks, skip, authOpts...)
	if err != nil {
		fatal("could not set up fallback authentication", err)
	}

	h := &Host{
		Auth: a,
		Sync: keysync.New(ks, skip,
			keysync.WithMetrics(m),
			keysync.WithLogger(log),
			keysync.WithChallengeSize(conf.Fallback.ChallengeSize),
		),
		Profiles:    pc,
		Skip:        skip,
		Primary:     conf.PrimaryUsers,
		IdleTimeout: time.Duration(conf.IdleTimeoutSeconds) * time.Second,
		Log:         log.With("component", "host"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", net.JoinHostPort(conf.ListenAddress, strconv.Itoa(conf.ListenPort)))
	if err != nil {
		fatal("could not listen", err)
	}

	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx, ln) }()

	var metricsServer *http.Server
	if conf.MetricsAddress != "" {
		metricsServer = &http.Server{Addr: conf.MetricsAddress, Handler: metrics.Handler(reg)}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	go readCommands(os.Stdin, os.Stdout, admin.New(ks, pc, nil))

	log.Info("server running", "port", conf.ListenPort)

	register := time.NewTicker(1 * time.Hour)
	defer register.Stop()

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			serveErr = <-served
			break loop
		case serveErr = <-served:
			stop()
			break loop
		case <-register.C:
			if ms != nil {
				go ms.Register()
			}
		}
	}

	log.Info("shutting down")
	if serveErr != nil {
		log.Error("listener failed", "error", serveErr)
	}

	err = multierr.Combine(ks.Close(), pc.Close())
	if ms != nil {
		err = multierr.Append(err, ms.Close())
	}
	if metricsServer != nil {
		err = multierr.Append(err, metricsServer.Close())
	}
	if err != nil {
		log.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}

// readCommands runs each line read from r as an operator command.
func readCommands(r io.Reader, w io.Writer, cmds *admin.Commands) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmds.Handle(w, sc.Text())
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(w, "could not read commands:", err)
	}
}
