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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"washbook/internal/admin"
	"washbook/internal/allowlist"
	"washbook/internal/api"
	"washbook/internal/booking"
	"washbook/internal/config"
	"washbook/internal/database"
	"washbook/internal/events"
	"washbook/internal/metrics"
	"washbook/internal/session"
	"washbook/internal/slots"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		addr        string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("washbook", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config.yaml (default: $WASHBOOK_CONFIG or configs/config.yaml)")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides http.port (e.g. :8080)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println("washbook", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr == "" {
		addr = cfg.Addr()
	}

	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("load time zone: %w", err)
	}

	grid := slots.Grid{
		StartTime:   cfg.Booking.StartTime,
		SlotCount:   cfg.Booking.SlotCount,
		SlotMinutes: cfg.Booking.SlotMinutes,
		Machines:    cfg.Booking.Machines,
	}
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("booking grid: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	provider := allowlist.NewFileProvider(cfg.Allowlist.Path, cfg.Allowlist.DefaultEntry, &logger)
	if _, err := provider.Load(); err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.CheckFunc{"sqlite": db.PingContext}

	var sessions session.Store = session.NewMemoryStore(cfg.SessionTTL())
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		sessions = session.NewFailoverStore(session.NewRedisStore(rdb, cfg.SessionTTL()), sessions, &logger)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	bus := events.NewEventBus()
	bus.OnError(func(e events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("Event handler failed")
	})
	bus.Subscribe(auditHandler(&logger), events.ReservationCreated, events.ReservationCancelled, events.ReservationsPurged)

	engineOpts := []slots.Option{slots.WithBookedBy(slots.BookedBy(cfg.Booking.BookedBy)), slots.WithLogger(&logger)}
	if rdb != nil && cfg.DayViewTTL() > 0 {
		cache := slots.NewRedisCache(rdb, cfg.DayViewTTL(), &logger)
		engineOpts = append(engineOpts, slots.WithCache(cache))
		bus.Subscribe(slots.InvalidationHandler(cache), events.ReservationCreated, events.ReservationCancelled, events.ReservationsPurged)
	}

	bookingSvc := booking.NewService(db, grid, booking.Rules{
		MaxPerDay:       cfg.Booking.MaxPerDay,
		RejectPastDates: cfg.Booking.RejectPastDates,
		Descending:      cfg.Descending(),
		Location:        loc,
	}, bus, &logger)

	adminSvc := admin.NewService(db, cfg.Admin.Password, cfg.Booking.DateLayout, bus, &logger)
	if !adminSvc.Enabled() {
		logger.Warn().Msg("ADMIN_PASSWORD is not set, admin endpoints will reject every request")
	}

	server := api.NewHTTPServer(api.Deps{
		Allowlist: provider,
		Sessions:  sessions,
		Slots:     slots.NewEngine(db, grid, engineOpts...),
		Booking:   bookingSvc,
		Admin:     adminSvc,
		Checks:    checks,
	}, api.Options{
		Addr:              addr,
		CookieName:        cfg.Session.CookieName,
		SessionTTL:        cfg.SessionTTL(),
		SecureCookies:     cfg.IsProduction(),
		PublicTimeslots:   cfg.HTTP.PublicTimeslots,
		DateLayout:        cfg.Booking.DateLayout,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		LoginRatePerMin:   cfg.HTTP.LoginRatePerMin,
		AdminRatePerMin:   cfg.HTTP.AdminRatePerMin,
		TrustProxyHeaders: cfg.HTTP.TrustProxy,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSecs) * time.Second,
	}, &logger)

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	background(func(ctx context.Context) { provider.Watch(ctx, cfg.AllowlistReloadInterval()) })

	backupSvc := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	background(backupSvc.Start)
	background(database.NewRetentionService(db, cfg.Retention.KeepDays, bus, &logger).Start)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		background(func(ctx context.Context) { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger) })
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info().
		Str("version", version).
		Str("env", cfg.App.Env).
		Int("allowlist_entries", provider.Len()).
		Msg("washbook started")

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	wg.Wait()
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || cfg.App.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

// auditHandler writes one plain log line per reservation change.
func auditHandler(logger *zerolog.Logger) events.EventHandler {
	l := logger.With().Str("component", "audit").Logger()
	return func(e events.Event) error {
		l.Info().
			Str("event", e.Type).
			Int64("id", e.ID).
			Str("date", e.Date).
			Str("actor", e.Actor).
			Int64("count", e.Count).
			Msg("Reservation change")
		return nil
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
