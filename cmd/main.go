package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poolbridge/internal/cloud"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/handlers"
	"poolbridge/internal/logger"
	"poolbridge/internal/repository"
	"poolbridge/internal/server"
	"poolbridge/internal/service"

	"github.com/spf13/viper"
)

func main() {
	// load config.yml first so the log level is configurable
	if err := loadConfig(); err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	level := viper.GetString("log.level")
	if level == "" {
		level = logger.InfoLevel
	}
	log := logger.Get(level)

	// open DB
	db, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Fatalw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(db)
	registry := coordinator.NewRegistry()
	services := service.NewService(repos, registry, service.Deps{
		CloudConfig: cloudConfig(),
		CoordConfig: coordinatorConfig(),
		SigningKey:  viper.GetString("auth.signing_key"),
		Log:         log,
	})
	apiHandler := handlers.NewHandler(services, log)

	// start a coordinator per persisted device
	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := services.Devices.StartAll(startCtx); err != nil {
		startCancel()
		log.Fatalw("failed to start device coordinators", "err", err)
	}
	startCancel()

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(registry, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "app.db")
		dbPath = "app.db"
	}
	return repository.InitDB(dbPath)
}

// cloudConfig reads the upstream API settings; zero values take built-in defaults.
func cloudConfig() cloud.Config {
	return cloud.Config{
		BaseURL:       viper.GetString("cloud.base_url"),
		APIKey:        viper.GetString("cloud.api_key"),
		UserAgent:     viper.GetString("cloud.user_agent"),
		Timeout:       secondsOrZero("cloud.timeout_s"),
		MinRequestGap: secondsOrZero("cloud.min_request_gap_s"),
	}
}

// coordinatorConfig reads polling and write tuning; zero values take built-in defaults.
func coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		InitialInterval:   secondsOrZero("polling.interval_s"),
		MinInterval:       secondsOrZero("polling.min_interval_s"),
		MaxInterval:       secondsOrZero("polling.max_interval_s"),
		BackoffFactor:     viper.GetFloat64("polling.backoff_factor"),
		GentleFactor:      viper.GetFloat64("polling.gentle_factor"),
		RecoveryThreshold: viper.GetInt("polling.recovery_threshold"),
		RateLimitCooldown: secondsOrZero("polling.rate_limit_cooldown_s"),
		BoostInterval:     secondsOrZero("polling.boost_interval_s"),
		BoostDuration:     secondsOrZero("polling.boost_duration_s"),
		RefreshGuard:      secondsOrZero("polling.refresh_guard_s"),
		NoReadWindow:      secondsOrZero("writes.no_read_window_s"),
		SwitchSettle:      secondsOrZero("writes.switch_settle_s"),
		ScheduleSettle:    secondsOrZero("writes.schedule_settle_s"),
		WriteGap:          secondsOrZero("writes.gap_s"),
		WriteRetries:      viper.GetInt("writes.retries"),
	}
}

func secondsOrZero(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Second
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(registry *coordinator.Registry, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop pollers and flush queued writes
	registry.CloseAll()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
