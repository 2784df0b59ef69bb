package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/fgsvc"
	"github.com/loykin/fgsvc/internal/logger"
	"golang.org/x/term"
)

func runServe(ctx context.Context, flags ServeFlags) error {
	if flags.ConfigPath == "" {
		return errors.New("config file required for serve command. Use --config=fgsvc.toml or provide as argument")
	}
	cfg, err := fgsvc.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write daemon pid file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	cfg.Log.Color = useColor(flags.Color, cfg.Log.Color)
	log := logger.New(cfg.Log, os.Stderr)

	d, err := fgsvc.NewDaemon(cfg, log)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// useColor resolves --color against the config value. "auto" keeps an
// explicit config setting and otherwise colors only when stderr is a terminal.
func useColor(mode string, configured bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return configured || term.IsTerminal(int(os.Stderr.Fd()))
	}
}
