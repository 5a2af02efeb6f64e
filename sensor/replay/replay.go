// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package replay implements a sensor bridge which replays a GNSSLogger
// capture file, optionally following it as it grows.
package replay

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/wallclock"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/fsnotify/fsnotify"
)

type (
	// Source replays raw measurements and fixes from a GNSSLogger file. Raw
	// lines sharing a TimeNanos value are delivered together as one epoch;
	// Fix lines are delivered as location changes.
	Source struct {
		sensor.Emitter

		path     string
		header   string
		interval time.Duration
		idle     time.Duration
		follow   bool
		logger   log.Logger

		cancel context.CancelFunc
		done   chan struct{}
		mu     sync.Mutex
	}

	lineReader struct {
		r       *bufio.Reader
		partial string
	}

	epoch struct {
		time  string
		lines []string
	}

	waitResult int
)

const (
	waitWritten waitResult = iota
	waitIdle
	waitStopped
)

// DefaultIdleFlush is how long a followed file must stay unchanged before the
// pending epoch is delivered.
const DefaultIdleFlush = time.Second

// Column positions in GNSSLogger records.
const (
	rawTimeNanos = 2
	fixLatitude  = 2
	fixLongitude = 3
)

// Open reads the header of the capture file and returns a source for it. The
// file is not streamed until the source is registered.
func Open(path string, opt ...Option) (*Source, error) {
	var opts Options
	opts.Apply(opt)

	if opts.Interval < 0 {
		return nil, &errors.Error{
			Message:       "replay interval must not be negative",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "Interval",
			PropertyValue: opts.Interval,
		}
	}
	if opts.IdleFlush < 0 {
		return nil, &errors.Error{
			Message:       "idle flush must not be negative",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "IdleFlush",
			PropertyValue: opts.IdleFlush,
		}
	}
	if opts.IdleFlush == 0 {
		opts.IdleFlush = DefaultIdleFlush
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.Error{
			Message:       "could not open capture file",
			Kind:          errors.ArgumentInvalid,
			NestedError:   err,
			PropertyName:  "path",
			PropertyValue: path,
		}
	}
	defer f.Close()

	header, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if opts.Header != "" {
		header = opts.Header
	}

	return &Source{
		path:     path,
		header:   header,
		interval: opts.Interval,
		idle:     opts.IdleFlush,
		follow:   opts.Follow,
		logger:   log.Wrap(opts.Logger),
	}, nil
}

// RegisterMeasurementsCallback starts replaying the file from the beginning.
// Registering a source which is already streaming is a no-op.
func (s *Source) RegisterMeasurementsCallback(
	ctx context.Context,
	onError func(error),
	onListeningStarted func(),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return &errors.Error{
			Message:     "could not open capture file",
			Kind:        errors.TransportError,
			NestedError: err,
		}
	}

	var watcher *fsnotify.Watcher
	if s.follow {
		if watcher, err = fsnotify.NewWatcher(); err == nil {
			err = watcher.Add(s.path)
		}
		if err != nil {
			f.Close()
			if watcher != nil {
				watcher.Close()
			}
			return &errors.Error{
				Message:     "could not watch capture file",
				Kind:        errors.TransportError,
				NestedError: err,
			}
		}
	}

	// The stream outlives the registration call, so it is bound to its own
	// context rather than the caller's.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer f.Close()
		if watcher != nil {
			defer watcher.Close()
		}

		if onListeningStarted != nil {
			onListeningStarted()
		}
		if err := s.stream(streamCtx, f, watcher); err != nil {
			s.logger.Err(streamCtx, err)
			if onError != nil {
				onError(err)
			}
		}
	}(s.done)

	return nil
}

// UnregisterMeasurementsCallback stops the replay and waits for it to finish.
// It is a no-op if not registered.
func (s *Source) UnregisterMeasurementsCallback(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Context(ctx, "stopping replay")
	}
}

// Header returns the header read from the capture file.
func (s *Source) Header() string {
	return s.header
}

// Done returns a channel which is closed once the current replay has reached
// the end of the file, or nil if the source is not registered. In follow
// mode it only closes on unregistration or error.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Source) stream(
	ctx context.Context,
	f *os.File,
	watcher *fsnotify.Watcher,
) error {
	lr := &lineReader{r: bufio.NewReader(f)}
	var cur epoch

	for {
		line, ok, err := lr.next()
		if err != nil {
			return &errors.Error{
				Message:     "reading capture file failed",
				Kind:        errors.TransportError,
				NestedError: err,
			}
		}

		if !ok {
			if !s.follow {
				if rest := lr.flush(); rest != "" {
					if err := s.handle(ctx, rest, &cur); err != nil {
						return err
					}
				}
				return s.emitEpoch(ctx, &cur)
			}
			// An epoch may continue in the next write, so the pending one
			// only goes out once the file has been idle for a while.
			var idle <-chan time.Time
			if lr.partial == "" && len(cur.lines) > 0 {
				idle = wallclock.Instance.After(s.idle)
			}
			res, err := s.wait(ctx, watcher, idle)
			switch {
			case err != nil:
				return err
			case res == waitStopped:
				return nil
			case res == waitIdle:
				if err := s.emitEpoch(ctx, &cur); err != nil {
					return err
				}
			}
			continue
		}

		if err := s.handle(ctx, line, &cur); err != nil {
			return err
		}
	}
}

func (s *Source) handle(ctx context.Context, line string, cur *epoch) error {
	if ctx.Err() != nil {
		return nil
	}

	kind, _, _ := strings.Cut(line, ",")
	switch kind {
	case "Raw":
		fields := strings.Split(line, ",")
		if len(fields) <= rawTimeNanos {
			s.logger.Warn(ctx, &errors.Error{
				Message:       "skipping truncated raw record",
				Kind:          errors.PayloadInvalid,
				PropertyName:  "line",
				PropertyValue: line,
			})
			return nil
		}
		if t := fields[rawTimeNanos]; t != cur.time {
			if err := s.emitEpoch(ctx, cur); err != nil {
				return err
			}
			cur.time = t
		}
		cur.lines = append(cur.lines, line)

	case "Fix":
		fields := strings.Split(line, ",")
		if len(fields) <= fixLongitude {
			s.logger.Warn(ctx, &errors.Error{
				Message:       "skipping truncated fix record",
				Kind:          errors.PayloadInvalid,
				PropertyName:  "line",
				PropertyValue: line,
			})
			return nil
		}
		s.Emit(sensor.Event{
			Name:    sensor.LocationChange,
			Message: fields[fixLatitude] + "," + fields[fixLongitude],
		})

	default:
		// Comments and other record types (Status, OrientationDeg, ...) are
		// not part of the stream.
		if !strings.HasPrefix(kind, "#") {
			s.logger.Debug(ctx, "skipping record", slog.String("type", kind))
		}
	}
	return nil
}

func (s *Source) emitEpoch(ctx context.Context, cur *epoch) error {
	if len(cur.lines) == 0 {
		return nil
	}
	msg := strings.Join(cur.lines, "\n")
	cur.lines = cur.lines[:0]

	if ctx.Err() != nil {
		return nil
	}
	s.Emit(sensor.Event{Name: sensor.RawMeasurementLines, Message: msg})

	if s.interval > 0 {
		select {
		case <-wallclock.Instance.After(s.interval):
		case <-ctx.Done():
		}
	}
	return nil
}

func (s *Source) wait(
	ctx context.Context,
	watcher *fsnotify.Watcher,
	idle <-chan time.Time,
) (waitResult, error) {
	for {
		select {
		case <-ctx.Done():
			return waitStopped, nil
		case <-idle:
			return waitIdle, nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return waitStopped, nil
			}
			switch {
			case ev.Has(fsnotify.Write):
				return waitWritten, nil
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				return waitStopped, &errors.Error{
					Message:       "capture file was removed",
					Kind:          errors.TransportError,
					PropertyName:  "path",
					PropertyValue: ev.Name,
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return waitStopped, nil
			}
			return waitStopped, &errors.Error{
				Message:     "watching capture file failed",
				Kind:        errors.TransportError,
				NestedError: err,
			}
		}
	}
}

func (r *lineReader) next() (string, bool, error) {
	s, err := r.r.ReadString('\n')
	switch {
	case err == io.EOF:
		r.partial += s
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	line := r.partial + s
	r.partial = ""
	return strings.TrimRight(line, "\r\n"), true, nil
}

func (r *lineReader) flush() string {
	rest := strings.TrimRight(r.partial, "\r\n")
	r.partial = ""
	return rest
}

// Read the leading comment block of a capture file.
func readHeader(f io.Reader) (string, error) {
	var sb strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(line, "#") {
			break
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", &errors.Error{
			Message:     "reading capture header failed",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	return sb.String(), nil
}
