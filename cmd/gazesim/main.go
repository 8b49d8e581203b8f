package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/gazectl/internal/config"
	"github.com/danmuck/gazectl/internal/devicesim"
	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gazesim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("gazesim", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "TOML config file (see configgen --kind gazesim)")
	addr := flagSet.String("addr", "127.0.0.1:4242", "listen address")
	interval := flagSet.Duration("interval", 0, "time between data records")
	calDelay := flagSet.Duration("calibration-delay", 0, "time from CALIBRATE_START to the result")
	aveError := flagSet.String("ave-error", "", "AVE_ERROR reported by the calibration result")
	fragment := flagSet.Bool("fragment", false, "split every write at a random offset")
	seed := flagSet.Int64("seed", 1, "random seed for fragmentation and gaze values")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logging.ConfigureRuntime()
	logger := observability.InitLogger("gazesim")

	cfg := devicesim.DefaultConfig()
	cfg.Logger = logger
	if *configPath != "" {
		fileCfg, err := config.LoadSimConfig(*configPath)
		if err != nil {
			return err
		}
		if err := applySimConfig(&cfg, fileCfg); err != nil {
			return err
		}
	}
	if flagSet.Changed("addr") || *configPath == "" {
		cfg.Addr = *addr
	}
	if flagSet.Changed("interval") {
		cfg.RecordInterval = *interval
	}
	if flagSet.Changed("calibration-delay") {
		cfg.CalibrationDelay = *calDelay
	}
	if flagSet.Changed("ave-error") {
		cfg.AverageError = *aveError
	}
	if flagSet.Changed("fragment") {
		cfg.Fragment = *fragment
	}
	if flagSet.Changed("seed") {
		cfg.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := devicesim.Start(cfg)
	if err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info().Int("commands", len(srv.Commands())).Msg("gazesim_stopping")
	return srv.Close()
}

func applySimConfig(dst *devicesim.Config, src config.SimConfig) error {
	dst.Addr = src.Addr
	interval, err := config.ParseDuration(src.RecordInterval)
	if err != nil {
		return err
	}
	if interval > 0 {
		dst.RecordInterval = interval
	}
	delay, err := config.ParseDuration(src.CalibrationDelay)
	if err != nil {
		return err
	}
	if delay > 0 {
		dst.CalibrationDelay = delay
	}
	if src.AverageError != "" {
		dst.AverageError = src.AverageError
	}
	dst.Fragment = src.Fragment
	if src.Seed != 0 {
		dst.Seed = src.Seed
	}
	return nil
}
