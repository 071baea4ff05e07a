package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/trivia/go/internal/gateway"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/mcdev12/trivia/go/internal/rpc"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	port := getEnv("GATEWAY_PORT", "8081")
	apiURL := getEnv("API_URL", "http://localhost:8080")

	jsCfg := relay.DefaultJetStreamConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upstream, err := relay.ConnectJetStream(ctx, jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to JetStream")
	}
	defer upstream.Close()

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.LeaveGrace = time.Duration(getEnvAsInt("LEAVE_GRACE_SECONDS", int(connCfg.LeaveGrace/time.Second))) * time.Second

	leaver := rpc.NewClient(http.DefaultClient, apiURL)
	cm := gateway.NewConnectionManager(upstream, connCfg, gateway.WithLeaver(leaver))
	defer cm.Close()

	mux := http.NewServeMux()
	gateway.NewWebSocketHandler(cm).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service":     "trivia-gateway",
			"connections": cm.Stats().TotalConnections,
			"stream":      jsCfg.StreamName,
		})
	})

	server := &http.Server{
		Addr:        ":" + port,
		Handler:     cors.AllowAll().Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	log.Info().
		Str("nats_url", jsCfg.URL).
		Str("api_url", apiURL).
		Dur("leave_grace", connCfg.LeaveGrace).
		Str("port", port).
		Msg("starting trivia gateway")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("trivia gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
