package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "recaptcha-audio-solver/internal/api/grpc"
	"recaptcha-audio-solver/internal/app"
	"recaptcha-audio-solver/internal/config"
	httpapi "recaptcha-audio-solver/internal/http"
	"recaptcha-audio-solver/internal/observability"
	"recaptcha-audio-solver/internal/observability/metrics"
)

func main() {
	url := flag.String("url", "", "solve the challenge on this page once and exit")
	serve := flag.Bool("serve", false, "run the HTTP and gRPC service")
	solveTimeout := flag.Duration("timeout", 2*time.Minute, "upper bound for a single solve")
	allowMock := flag.Bool("allow-mock", false, "permit the scripted mock recognizer with -url")
	flag.Parse()

	if *url == "" && !*serve {
		fmt.Fprintln(os.Stderr, "usage: recaptcha-solver -url <page> | -serve")
		os.Exit(2)
	}

	cfg := config.Load()
	application := app.New(cfg)

	if *url != "" && !*allowMock {
		if err := application.CheckLiveProvider(); err != nil {
			log.Fatal().Err(err).Msg("Refusing one-shot solve")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	code := 0
	if *url != "" {
		code = solveOnce(ctx, application, *url, *solveTimeout)
	} else {
		runService(ctx, application, cfg, *solveTimeout)
	}
	application.Shutdown()
	stop()
	os.Exit(code)
}

func solveOnce(ctx context.Context, a *app.Application, url string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := a.SolveURL(ctx, url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Str("sessionId", res.SessionID).Msg("Solve failed")
		return 1
	}
	fmt.Printf("solved=%t attempts=%d state=%s session=%s\n", res.Solved, res.Attempts, res.State, res.SessionID)
	return 0
}

func runService(ctx context.Context, a *app.Application, cfg *config.Config, solveTimeout time.Duration) {
	obs := observability.NewServer(":"+cfg.Service.MetricsPort, a.Ready)
	obs.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(a, solveTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	grpcServer := grpcapi.NewServer(metrics.DefaultMetrics)
	grpcServer.SetServing(a.Ready())
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	log.Info().
		Str("httpPort", cfg.Service.HTTPPort).
		Str("grpcPort", cfg.Service.GRPCPort).
		Str("metricsPort", cfg.Service.MetricsPort).
		Msg("reCAPTCHA solver service started")

	<-ctx.Done()

	log.Info().Msg("Shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown failed")
	}
}
