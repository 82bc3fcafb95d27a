package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/djlord-it/arc-companion/internal/api"
	"github.com/djlord-it/arc-companion/internal/cache"
	"github.com/djlord-it/arc-companion/internal/circuitbreaker"
	"github.com/djlord-it/arc-companion/internal/config"
	"github.com/djlord-it/arc-companion/internal/cron"
	"github.com/djlord-it/arc-companion/internal/domain"
	"github.com/djlord-it/arc-companion/internal/leaderelection"
	"github.com/djlord-it/arc-companion/internal/metaforge"
	"github.com/djlord-it/arc-companion/internal/metrics"
	"github.com/djlord-it/arc-companion/internal/refresher"
	"github.com/djlord-it/arc-companion/internal/scheduler"
	"github.com/djlord-it/arc-companion/internal/store/sqlstore"
	"github.com/djlord-it/arc-companion/internal/transport/channel"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "timers":
		os.Exit(runTimers(args))
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`arccompanion - live event countdowns and game data cache

Usage:
  arccompanion <command> [flags]

Commands:
  serve      Start the countdown driver, refresher and HTTP API
  timers     Show event countdowns in the terminal (--once for a single print)
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  CONFIG_FILE               Optional YAML file; environment variables take precedence
  API_BASE_URL              Game data API root (default: "https://api.metaforge.gg/v1/")
  API_TIMEOUT               Upstream request timeout (default: "30s")
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  TICK_INTERVAL             Countdown tick interval (default: "1s")
  REFRESH_CRON              Upstream refresh schedule (default: "*/15 * * * *")
  REFRESH_TIMEZONE          Time zone for REFRESH_CRON (default: local)

  DATABASE_DRIVER           "sqlite3", "postgres" or "none" (default: "sqlite3")
  DATABASE_URL              Content store DSN (default: "file:arccompanion.db?_foreign_keys=on")
  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  REFRESH_LOCK_KEY          Postgres advisory lock electing the content refresher (default: "417302")
  LEADER_RETRY_INTERVAL     Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Lock connection ping interval (default: "2s")

  REDIS_ADDR                Redis address for the response cache (optional)
  REDIS_PASSWORD            Redis password (optional)
  CACHE_TTL                 Cached response lifetime (default: "10m")

  CIRCUIT_BREAKER_THRESHOLD Consecutive upstream failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open circuit duration (default: "1m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  TIMER_MAP                 Only show event timers on this map (optional)
  TIMER_NAME                Only show event timers with this name (optional)`)
}

// timerSource adapts the content client to scheduler.TimerSource.
type timerSource struct {
	client *metaforge.Client
	filter metaforge.Filter
}

func (s timerSource) EventTimers(ctx context.Context) ([]domain.EventTimer, error) {
	return s.client.EventTimers(ctx, s.filter)
}

// upstream bundles the content client with its optional Redis cache.
type upstream struct {
	client *metaforge.Client
	cache  *cache.RedisCache // nil when REDIS_ADDR is unset
	redis  *redis.Client
}

func (u *upstream) Close() {
	if u.redis != nil {
		u.redis.Close()
	}
}

func newUpstream(cfg config.Config, sink metrics.Sink) (*upstream, error) {
	client, err := metaforge.New(cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		return nil, err
	}
	client.WithMetrics(sink)

	if cfg.CircuitBreakerThreshold > 0 {
		client.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("arccompanion: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	u := &upstream{client: client}
	if cfg.RedisAddr != "" {
		u.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		u.cache = cache.NewRedisCache(u.redis, cfg.CacheTTL)
		client.WithCache(u.cache)
		log.Printf("arccompanion: response cache enabled (redis=%s, ttl=%s)", cfg.RedisAddr, cfg.CacheTTL)
	}
	return u, nil
}

func loadConfig() (config.Config, bool) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, false
	}
	return cfg, true
}

func runServe(args []string) int {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addr := flags.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	noRefresh := flags.Bool("no-refresh", false, "load timers once at startup and skip the refresh schedule")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		return exitRuntimeError
	}

	cfg, ok := loadConfig()
	if !ok {
		return exitInvalidConfig
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logConfigWarnings(&cfg)

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("arccompanion: metrics enabled (port=%d, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Printf("arccompanion: metrics server listening on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("arccompanion: metrics server error: %v", err)
			}
		}()
	}

	up, err := newUpstream(cfg, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create api client: %v\n", err)
		return exitRuntimeError
	}
	defer up.Close()

	var store *sqlstore.Store
	if cfg.StoreEnabled() {
		store, err = sqlstore.Open(context.Background(), cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DBOpTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer store.Close()
		log.Printf("arccompanion: content store ready (driver=%s)", cfg.DatabaseDriver)
	}

	board := channel.NewBoard(channel.WithMetrics(sink))
	source := timerSource{
		client: up.client,
		filter: metaforge.Filter{Map: cfg.TimerMap, Name: cfg.TimerName},
	}
	sched := scheduler.New(scheduler.Config{TickInterval: cfg.TickInterval}, source, board).
		WithMetrics(sink)
	log.Printf("arccompanion: session %s", sched.SessionID())

	handler := api.NewHandler(board, sched).WithCatalog(up.client)
	if store != nil {
		handler.WithContent(store).WithHealthCheck("database", store)
	}
	if up.cache != nil {
		handler.WithHealthCheck("redis", up.cache)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}
	go func() {
		log.Printf("arccompanion: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("arccompanion: http server error: %v", err)
		}
	}()

	// Separate contexts so the refresher stops before the countdown driver.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	refresherCtx, cancelRefresher := context.WithCancel(context.Background())

	var schedulerWg, refresherWg sync.WaitGroup

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		sched.Run(schedulerCtx)
	}()

	if *noRefresh {
		go sched.Load(refresherCtx)
		log.Println("arccompanion: refresh schedule disabled by --no-refresh")
	} else {
		schedule, err := cron.NewParser().Parse(cfg.RefreshCron, cfg.RefreshTimezone)
		if err != nil {
			// Already validated; unreachable unless the zone database changed.
			fmt.Fprintf(os.Stderr, "invalid REFRESH_CRON: %v\n", err)
			cancelRefresher()
			cancelScheduler()
			return exitInvalidConfig
		}
		refreshConfig := refresher.Config{Schedule: schedule}

		switch {
		case store != nil && cfg.SharedStore():
			// Every instance reloads its own timers; the lock holder copies content.
			timersRefresher := refresher.New(refreshConfig, up.client, nil, sched).WithMetrics(sink)
			contentRefresher := refresher.New(refreshConfig, up.client, store, nil).WithMetrics(sink)
			elector := leaderelection.New(
				leaderelection.NewAdvisoryLocker(store.DB(), cfg.RefreshLockKey),
				cfg.LeaderRetryInterval,
				cfg.LeaderHeartbeatInterval,
			).WithMetrics(sink)

			refresherWg.Add(2)
			go func() {
				defer refresherWg.Done()
				timersRefresher.Run(refresherCtx)
			}()
			go func() {
				defer refresherWg.Done()
				elector.Run(refresherCtx, contentRefresher.Run)
			}()
			log.Printf("arccompanion: content refresh elected via advisory lock %d", cfg.RefreshLockKey)

		case store != nil:
			refr := refresher.New(refreshConfig, up.client, store, sched).WithMetrics(sink)
			refresherWg.Add(1)
			go func() {
				defer refresherWg.Done()
				refr.Run(refresherCtx)
			}()

		default:
			refr := refresher.New(refreshConfig, up.client, nil, sched).WithMetrics(sink)
			refresherWg.Add(1)
			go func() {
				defer refresherWg.Done()
				refr.Run(refresherCtx)
			}()
		}
	}

	log.Printf("arccompanion: started (tick=%s, refresh=%q, http=%s)", cfg.TickInterval, cfg.RefreshCron, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("arccompanion: received signal %v, shutting down", received)

	// Phase 1: Stop refresher (no new loads)
	log.Println("arccompanion: stopping refresher...")
	cancelRefresher()
	refresherWg.Wait()
	log.Println("arccompanion: refresher stopped")

	// Phase 2: Stop countdown driver (no new snapshots)
	log.Println("arccompanion: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("arccompanion: scheduler stopped")

	// Phase 3: Close the board so open event streams end
	board.Close()

	// Phase 4: Stop HTTP server with graceful shutdown
	log.Println("arccompanion: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("arccompanion: http server shutdown error: %v", err)
	}
	log.Println("arccompanion: http server stopped")

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("arccompanion: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("arccompanion: metrics server shutdown error: %v", err)
		}
		log.Println("arccompanion: metrics server stopped")
	}

	log.Println("arccompanion: stopped")
	return exitSuccess
}

// logConfigWarnings logs operator-facing notes about degraded setups.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.MetricsEnabled {
		log.Println("arccompanion: WARNING [P1]: METRICS_ENABLED=false; tick and upstream metrics are not exported")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("arccompanion: WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0; a failing upstream is retried on every request")
	}
	if cfg.TickInterval > time.Second {
		log.Printf("arccompanion: WARNING [P1]: TICK_INTERVAL=%s; countdowns update less than once per second", cfg.TickIntervalStr)
	}
	if cfg.RedisAddr == "" {
		log.Println("arccompanion: INFO: REDIS_ADDR not set; upstream failures are not masked by cached responses")
	}
	if !cfg.StoreEnabled() {
		log.Println("arccompanion: INFO: DATABASE_DRIVER=none; /items and /quests are unavailable")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("arccompanion version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
