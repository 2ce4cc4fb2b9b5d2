// Command outcomeviewer shows solver attempt and result events live in a
// browser. It consumes the Kafka topics the solver publishes to and pushes
// each event to connected pages over WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"recaptcha-audio-solver/internal/config"
	"recaptcha-audio-solver/internal/observability/logging"
	"recaptcha-audio-solver/internal/viewer"
)

func main() {
	cfg := config.Load()

	defaultBrokers := strings.Join(cfg.Kafka.Brokers, ",")
	if defaultBrokers == "" {
		defaultBrokers = "localhost:9092"
	}

	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", defaultBrokers, "Kafka brokers (comma-separated)")
	topicAttempts := flag.String("topic-attempts", cfg.Kafka.TopicAttempts, "attempt events topic")
	topicResults := flag.String("topic-results", cfg.Kafka.TopicResults, "result events topic")
	since := flag.Duration("since", time.Hour, "replay events newer than this")
	flag.Parse()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := viewer.NewHub()
	go hub.Run(ctx)

	brokerList := strings.Split(*brokers, ",")
	for _, topic := range []string{*topicAttempts, *topicResults} {
		reader := viewer.NewReader(ctx, brokerList, topic, *since)
		defer reader.Close()
		go viewer.Consume(ctx, reader, topic, hub)
	}

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           viewer.NewHandler(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().
			Str("addr", "http://localhost:"+*port).
			Strs("brokers", brokerList).
			Str("topicAttempts", *topicAttempts).
			Str("topicResults", *topicResults).
			Msg("Outcome viewer starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Viewer shutdown failed")
	}
}
