// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claimr-tools/claimr-go/internal/mockverifier"
	"github.com/lmittmann/tint"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	apiKey := flag.String("api-key", "test-key", "accepted API key")
	minRaw := flag.Int("min-raw-lines", mockverifier.DefaultMinRawLines,
		"raw measurement lines required for a grant")
	delay := flag.Duration("delay", 0, "delay before each response")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
	}))

	srv := &http.Server{
		Addr: *addr,
		Handler: mockverifier.New(*apiKey,
			mockverifier.WithPolicy(mockverifier.MinRawLines(*minRaw)),
			mockverifier.WithDelay(*delay),
			mockverifier.WithLogger(log),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("mock verifier listening", "addr", *addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to serve", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to shut down", "error", err)
		os.Exit(1)
	}
}
