package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/api"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/monitoring"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/service"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		port      = flag.Int("port", 8080, "Port for the HTTP server")
		dbHost    = flag.String("db-host", "localhost", "Database host")
		dbPort    = flag.Int("db-port", 5432, "Database port")
		dbUser    = flag.String("db-user", "admin", "Database user")
		dbPass    = flag.String("db-pass", "securepassword", "Database password")
		dbName    = flag.String("db-name", "addon_registry", "Database name")
		redisAddr = flag.String("redis-addr", "", "Redis address for catalog caching (empty disables)")
	)
	flag.Parse()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		*dbHost, *dbPort, *dbUser, *dbPass, *dbName)

	var cache store.RedisClient
	if *redisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: *redisAddr})
	}

	st, err := store.Open(dsn, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	lifecycle := service.NewLifecycleService(st)

	// Initialize metrics
	monitoring.InitMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/tenants/", api.NewHandler(lifecycle))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mux,
	}

	go func() {
		log.Info().Msgf("Starting Addon Lifecycle Service on port %d", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
	log.Info().Msg("Server exiting")
}
