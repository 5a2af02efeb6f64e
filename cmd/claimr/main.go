// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/config"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/evidence"
	"github.com/claimr-tools/claimr-go/history"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/claimr-tools/claimr-go/sensor/mqtt"
	"github.com/claimr-tools/claimr-go/sensor/replay"
	"github.com/claimr-tools/claimr-go/session"
	"github.com/lmittmann/tint"
)

const usage = `usage: claimr [flags] [run | history | verify-history]

  run             collect evidence and verify the current location (default)
  history         print recorded attempts as JSON lines
  verify-history  check the integrity of the attempt history

flags:
`

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("claimr failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("claimr", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	cfgPath := fs.String("config", "claimr.toml", "configuration file")
	submit := fs.Bool("submit", false, "submit as soon as enough evidence is collected")
	since := fs.Duration("since", 24*time.Hour, "history: how far back to list")
	limit := fs.Int("limit", 0, "history: maximum number of attempts to list")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *submit {
		cfg.Session.AutoSubmit = true
	}

	var level slog.LevelVar
	lvl, _ := cfg.Logging.SlogLevel()
	level.Set(lvl)
	logger := newLogger(cfg.Logging.Format, &level)
	slog.SetDefault(logger)

	if stop, err := config.Watch(*cfgPath,
		func(c *config.Config) {
			if l, err := c.Logging.SlogLevel(); err == nil {
				level.Set(l)
				logger.Info("reloaded configuration", "level", l)
			}
		},
		func(err error) { logger.Warn("configuration reload failed", "error", err) },
	); err == nil {
		defer stop()
	}

	switch cmd := fs.Arg(0); cmd {
	case "", "run":
		return runSession(ctx, cfg, logger)
	case "history":
		return listHistory(ctx, cfg, time.Now().Add(-*since), *limit)
	case "verify-history":
		return verifyHistory(ctx, cfg, logger)
	default:
		fs.Usage()
		return &errors.Error{
			Message:       "unknown command",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "command",
			PropertyValue: cmd,
		}
	}
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	switch format {
	case config.FormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr,
			&slog.HandlerOptions{Level: level}))
	case config.FormatText:
		return slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: level}))
	default:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}
}

func runSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := claimr.New(cfg.Verifier.APIKey,
		claimr.WithEndpoint(cfg.Verifier.Endpoint),
		claimr.WithTimeout(cfg.Verifier.Timeout.Std()),
		claimr.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	bridge, closeBridge, err := openBridge(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBridge()

	opts := []session.Option{
		session.WithMinEpochs(cfg.Session.MinEpochs),
		session.WithMaxEpochs(cfg.Session.MaxEpochs),
		session.WithDefaultRadius(cfg.Session.DefaultRadius),
		session.WithLogRequestDetails(cfg.Session.LogRequestDetails),
		session.WithLogger(logger),
	}
	if cfg.History.Path != "" {
		store, err := openHistory(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, session.WithRecorder(store))
	}

	sess, err := session.New(client, bridge, opts...)
	if err != nil {
		return err
	}

	updates, stop := sess.Watch()
	defer stop()

	if err := sess.Activate(ctx); err != nil {
		return err
	}
	defer func() {
		_ = sess.Deactivate(context.Background())
		sess.Wait()
	}()

	// A replay that does not follow its file ends on its own.
	var done <-chan struct{}
	if src, ok := bridge.(*replay.Source); ok && !cfg.Sensor.Replay.Follow {
		done = src.Done()
	}

	var enter <-chan struct{}
	if !cfg.Session.AutoSubmit {
		enter = readLines(ctx)
		logger.Info("press Enter to submit once ready")
	}

	var last session.State = -1
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			if sess.State() < session.Ready {
				return &errors.Error{
					Message: "sensor stream ended before enough evidence was collected",
					Kind:    errors.StateInvalid,
				}
			}
			done = nil

		case out := <-updates:
			if out.State != last {
				logOutput(logger, out)
				last = out.State
			} else if out.Progress != nil {
				logger.Debug("collecting evidence",
					"current", out.Progress.Current,
					"target", out.Progress.Target,
				)
			}

			switch {
			case out.State == session.Success:
				fmt.Println(out.JWT)
				return nil
			case out.State == session.Revoked && cfg.Session.AutoSubmit,
				out.State == session.Failed && cfg.Session.AutoSubmit:
				return &errors.Error{
					Message: "verification " + out.State.String() + ": " + out.Message,
					Kind:    errors.StateInvalid,
				}
			case out.State == session.Ready && cfg.Session.AutoSubmit && out.Submit != nil:
				if err := out.Submit(); err != nil {
					return err
				}
			}

		case <-enter:
			if err := sess.Submit(); err != nil {
				logger.Warn("cannot submit yet", "error", err)
			}
		}
	}
}

// Each line read from stdin asks for a submission.
func readLines(ctx context.Context) <-chan struct{} {
	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func logOutput(logger *slog.Logger, out session.Output) {
	attrs := []any{"state", out.State}
	if out.Message != "" {
		attrs = append(attrs, "message", out.Message)
	}
	if out.Progress != nil {
		attrs = append(attrs, "progress",
			fmt.Sprintf("%d/%d", out.Progress.Current, out.Progress.Target))
	}
	if out.Claim != nil {
		if loc, ok := out.Claim.Center(); ok {
			attrs = append(attrs, "claim", fmt.Sprintf("%.6f,%.6f",
				loc.Latitude, loc.Longitude))
		}
	}
	logger.Info("session", attrs...)
}

func openBridge(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (sensor.Bridge, func(), error) {
	switch cfg.Sensor.Source {
	case config.SourceReplay:
		src, err := replay.Open(cfg.Sensor.Replay.Path,
			replay.WithFollow(cfg.Sensor.Replay.Follow),
			replay.WithInterval(cfg.Sensor.Replay.Interval.Std()),
			replay.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil

	default:
		m := cfg.Sensor.MQTT
		b, err := mqtt.Dial(ctx, m.Broker, m.DeviceID,
			mqtt.WithClientID(m.ClientID),
			mqtt.WithTopicPrefix(m.TopicPrefix),
			mqtt.WithHeader(evidenceHeader(m.DeviceID)),
			mqtt.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}
}

// The MQTT device does not report its make, so the header only names it.
func evidenceHeader(deviceID string) string {
	return evidence.Header(runtime.GOOS, "unknown", deviceID)
}

func openHistory(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	key, err := cfg.History.MasterKey()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.History.Path, key, history.WithLogger(logger))
}

func listHistory(
	ctx context.Context,
	cfg *config.Config,
	since time.Time,
	limit int,
) error {
	if cfg.History.Path == "" {
		return &errors.Error{
			Message:      "no history configured",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "history.path",
		}
	}
	store, err := openHistory(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, since, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func verifyHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.History.Path == "" {
		return &errors.Error{
			Message:      "no history configured",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "history.path",
		}
	}
	store, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Verify(ctx); err != nil {
		return err
	}
	logger.Info("history is intact", "path", cfg.History.Path)
	return nil
}
