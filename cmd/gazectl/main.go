package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/gazectl/internal/control"
	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gazectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("gazectl", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "TOML config file")
	addr := flagSet.String("addr", "", "tracker address host:port (default 127.0.0.1:4242)")
	output := flagSet.StringP("output", "o", "", "output prefix; writes <prefix>_xml.csv, _calibration.csv, _record.csv")
	listen := flagSet.String("listen", "", "serve the HTTP control API on this address")
	duration := flagSet.Duration("duration", 0, "stop the session after this long (0 runs until interrupted)")
	logLevel := flagSet.String("log-level", "", "trace|debug|info|warn|error (overrides "+logging.EnvLogLevel+")")
	skipCal := flagSet.Bool("skip-calibration", false, "do not start a calibration pass")
	mirror := flagSet.Bool("mirror", false, "mirror data records to Redis")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	logging.ConfigureRuntime()
	if lvl, ok := logging.ParseLevel(*logLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	logger := observability.InitLogger("gazectl")

	cfg := defaultRuntimeConfig()
	if *configPath != "" {
		loaded, err := loadRuntimeConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flagSet.Changed("addr") {
		cfg.Tracker.Address = *addr
	}
	if flagSet.Changed("output") {
		cfg.Output = *output
	}
	if flagSet.Changed("listen") {
		cfg.Listen = *listen
	}
	if flagSet.Changed("duration") {
		cfg.Duration = *duration
	}
	if flagSet.Changed("skip-calibration") {
		cfg.Tracker.SkipCalibration = *skipCal
	}
	if flagSet.Changed("mirror") {
		cfg.Tracker.Mirror.Enabled = *mirror
	}
	if cfg.Listen == "" && cfg.Output == "" {
		return errors.New("--output is required unless --listen is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()
	client := tracker.NewClient(cfg.Tracker, tracker.WithClientLogger(observability.Component("tracker")))

	var serveErr chan error
	if cfg.Listen != "" {
		srv := control.New(control.Config{
			Name:        "gazectl",
			Addr:        cfg.Listen,
			CORSOrigins: cfg.CorsOrigins,
			Token:       cfg.Token,
		}, client)
		serveErr = make(chan error, 1)
		go func() {
			serveErr <- srv.Serve(ctx)
		}()
	}

	var sessionDone <-chan struct{}
	var session *tracker.Session
	if cfg.Output != "" {
		s, err := client.StartSession(ctx, cfg.Output)
		if err != nil {
			stop()
			if serveErr != nil {
				<-serveErr
			}
			return err
		}
		session = s
		// Under the control API a failed session is reported by /session.
		if cfg.Listen == "" {
			sessionDone = s.Done()
		}
	}

	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	logger.Info().
		Str("addr", cfg.Tracker.Address).
		Str("output", cfg.Output).
		Str("listen", cfg.Listen).
		Dur("duration", cfg.Duration).
		Msg("gazectl_running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("signal_received")
	case <-deadline:
		logger.Info().Msg("duration_elapsed")
	case <-sessionDone:
		return session.Err()
	case err := <-serveErr:
		serveErr = nil
		runErr = err
	}

	stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.StopTimeout+time.Second)
	defer cancel()
	closeErr := client.Close(stopCtx)
	if serveErr != nil {
		runErr = errors.Join(runErr, <-serveErr)
	}
	if st := client.Status(); st.LastError != "" {
		logger.Warn().Str("error", st.LastError).Msg("last_session_error")
	}
	return errors.Join(runErr, closeErr)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gazectl collects gaze data from an Open Gaze API tracker.

It connects to the tracker, enables the data streams, runs a calibration
pass and writes three files per session:

  <output>_xml.csv          every protocol line received
  <output>_calibration.csv  calibration results
  <output>_record.csv       data records after calibration

Usage:
  gazectl --output <prefix> [flags]
  gazectl --listen 127.0.0.1:7040 [flags]

Flags:
%s`, flagSet.FlagUsages())
}
