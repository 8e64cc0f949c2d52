// Command mirrorbot mirrors prediction-market questions from source
// platforms onto Manifold and syncs their resolutions back. It loads
// configuration, wires dependencies, and dispatches one subcommand per
// invocation; scheduling is left to cron or a systemd timer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/app"
	"github.com/alanyoungcy/mirrorbot/internal/config"
)

const usage = `usage: mirrorbot [-config path] <command> [arguments]

commands:
  auto-mirror <source> [--dry-run]   discover and mirror eligible questions
  mirror <source> <id> [--dry-run]   mirror one question by external id
  mirror-url <url> [--dry-run]       mirror one question by source URL
  sync [--metaculus --kalshi --managrams --destination --third-party]
                                     run sync passes (default: all)
  resolve <url>                      force-check one mirror by market URL
  process-managrams                  fetch and process managram commands
  list [mirrors|third-party] [--resolved]
                                     print the mirror registry
  send-managram <user-id> <amount> <message>
                                     send mana from the bot account
  archive [--before YYYY-MM-DD]      move aged rows into cold storage
`

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, application, args[0], args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted")
		} else {
			logger.Error("command failed", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "mirrorbot: %v\n", err)
		}
		os.Exit(1)
	}
}

// run dispatches a single subcommand.
func run(ctx context.Context, application *app.App, command string, args []string) error {
	switch command {
	case "auto-mirror":
		fs := flag.NewFlagSet("auto-mirror", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report what would be mirrored without creating markets")
		if err := parse(fs, args, 1); err != nil {
			return err
		}
		return application.AutoMirror(ctx, fs.Arg(0), *dryRun)

	case "mirror":
		fs := flag.NewFlagSet("mirror", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report what would be mirrored without creating markets")
		if err := parse(fs, args, 2); err != nil {
			return err
		}
		return application.Mirror(ctx, fs.Arg(0), fs.Arg(1), *dryRun)

	case "mirror-url":
		fs := flag.NewFlagSet("mirror-url", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report what would be mirrored without creating markets")
		if err := parse(fs, args, 1); err != nil {
			return err
		}
		return application.MirrorURL(ctx, fs.Arg(0), *dryRun)

	case "sync":
		fs := flag.NewFlagSet("sync", flag.ExitOnError)
		var opts app.SyncOptions
		fs.BoolVar(&opts.Metaculus, "metaculus", false, "sync Metaculus resolutions")
		fs.BoolVar(&opts.Kalshi, "kalshi", false, "sync Kalshi resolutions")
		fs.BoolVar(&opts.Managrams, "managrams", false, "fetch and process managrams")
		fs.BoolVar(&opts.Destination, "destination", false, "backfill destination-side resolutions")
		fs.BoolVar(&opts.ThirdParty, "third-party", false, "discover third-party mirrors")
		if err := parse(fs, args, 0); err != nil {
			return err
		}
		return application.Sync(ctx, opts)

	case "resolve":
		fs := flag.NewFlagSet("resolve", flag.ExitOnError)
		if err := parse(fs, args, 1); err != nil {
			return err
		}
		return application.Resolve(ctx, fs.Arg(0))

	case "process-managrams":
		return application.ProcessManagrams(ctx)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		resolved := fs.Bool("resolved", false, "only resolved mirrors")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return application.ListMirrors(ctx, fs.Arg(0), *resolved)

	case "send-managram":
		fs := flag.NewFlagSet("send-managram", flag.ExitOnError)
		if err := parse(fs, args, 3); err != nil {
			return err
		}
		var amount float64
		if _, err := fmt.Sscanf(fs.Arg(1), "%g", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", fs.Arg(1))
		}
		return application.SendManagram(ctx, fs.Arg(0), amount, fs.Arg(2))

	case "archive":
		fs := flag.NewFlagSet("archive", flag.ExitOnError)
		beforeArg := fs.String("before", "", "archive rows older than this date (YYYY-MM-DD)")
		if err := parse(fs, args, 0); err != nil {
			return err
		}
		var before time.Time
		if *beforeArg != "" {
			var err error
			before, err = time.Parse("2006-01-02", *beforeArg)
			if err != nil {
				return fmt.Errorf("invalid --before date %q", *beforeArg)
			}
		}
		return application.Archive(ctx, before)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// parse parses flags and enforces a minimum positional argument count.
func parse(fs *flag.FlagSet, args []string, minArgs int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < minArgs {
		return fmt.Errorf("%s: expected at least %d argument(s)", fs.Name(), minArgs)
	}
	return nil
}
