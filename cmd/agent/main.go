package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"moltyagent.ai/internal/agent"
	"moltyagent.ai/internal/bootstrap"
	"moltyagent.ai/internal/clock"
	"moltyagent.ai/internal/config"
	"moltyagent.ai/internal/events"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/persistence/eventlog"
	"moltyagent.ai/internal/session"
	"moltyagent.ai/internal/strategy"
	"moltyagent.ai/internal/transport/observer"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath   string
	poolPath     string
	poolDriver   string
	accountID    string
	apiKey       string
	name         string
	dataDir      string
	observerAddr string
	seed         int64
}

func run() error {
	var f cliFlags
	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to agent.yaml (defaults apply when empty)")
	fs.StringVar(&f.poolPath, "pool", "", "identity pool path (overrides pool.path)")
	fs.StringVar(&f.poolDriver, "pool-driver", "", "identity pool driver: file or sqlite (overrides pool.driver)")
	fs.StringVar(&f.accountID, "account-id", "", "account id of the starting identity")
	fs.StringVar(&f.apiKey, "api-key", "", "api key of the starting identity (or set MOLTY_API_KEY)")
	fs.StringVar(&f.name, "name", "", "display name of the starting identity")
	fs.StringVar(&f.dataDir, "data", "", "event log directory (overrides event_log.dir; empty disables)")
	fs.StringVar(&f.observerAddr, "observer", "", "live event feed listen address (overrides observer.addr; empty disables)")
	fs.Int64Var(&f.seed, "seed", 0, "jitter seed (0 picks one from the clock)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if f.apiKey == "" {
		f.apiKey = strings.TrimSpace(os.Getenv("MOLTY_API_KEY"))
	}

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	applyOverrides(&cfg, f)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, err := gameapi.New(cfg.APIConfig())
	if err != nil {
		return err
	}

	clk := clock.Real()
	ev := events.NewEmitter(uuid.NewString(), clk.Now, events.LineSink(func(line string) { logger.Println(line) }))

	if dir := strings.TrimSpace(cfg.EventLog.Dir); dir != "" {
		sink := eventlog.NewSink(dir, logger)
		defer func() { _ = sink.Close() }()
		ev.Add(sink)
		logger.Printf("event log: %s", dir)
	}
	if addr := strings.TrimSpace(cfg.Observer.Addr); addr != "" {
		obs := observer.NewServer(observer.Options{AllowRemote: cfg.Observer.AllowRemote}, logger)
		ev.Add(obs)
		serveObserver(ctx, addr, obs, logger)
	}

	store, err := bootstrap.OpenStore(cfg.Pool)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, closeNotifier := bootstrap.Notifier(cfg, logger)
	defer closeNotifier()

	seed := f.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	dial := session.ClientDialer(client)
	pool := identity.NewPool(identity.PoolConfig{
		Store:       store,
		Probe:       session.SeatProbe(dial),
		Provisioner: identity.NewAPIProvisioner(client, identity.NewNameGenerator(cfg.Pool.NamePrefixes, rand.New(rand.NewSource(seed+1))), rand.New(rand.NewSource(seed+2))),
		Notifier:    notifier,
		Events:      ev,
		ExportName:  cfg.Pool.ExportName,
	})

	start, err := startingIdentity(ctx, f, client, pool)
	if err != nil {
		return fmt.Errorf("starting identity: %w", err)
	}

	runner, err := agent.New(agent.Options{
		Dial:      dial,
		Pool:      pool,
		Engine:    strategy.New(cfg.Strategy),
		Clock:     clk,
		Events:    ev,
		Session:   cfg.Session(),
		Cooldowns: cfg.AgentCooldowns(),
		Seed:      seed,
	})
	if err != nil {
		return err
	}

	logger.Printf("run %s starting as %s (pool %s:%s)", ev.RunID(), start.Name, cfg.Pool.Driver, cfg.Pool.Path)
	if err := runner.Run(ctx, start); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("shutdown complete")
	return nil
}

func applyOverrides(cfg *config.Config, f cliFlags) {
	if f.poolPath != "" {
		cfg.Pool.Path = f.poolPath
	}
	if f.poolDriver != "" {
		cfg.Pool.Driver = f.poolDriver
	}
	if f.dataDir != "" {
		cfg.EventLog.Dir = f.dataDir
	}
	if f.observerAddr != "" {
		cfg.Observer.Addr = f.observerAddr
	}
}

func serveObserver(ctx context.Context, addr string, obs *observer.Server, logger *log.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           obs.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		logger.Printf("observer feed on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("observer: %v", err)
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
