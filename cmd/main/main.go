package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usage = `Usage: babbler <command> [flags]

Commands:
  train <corpus>   Count a corpus into the store and write the model file.
  prune            Remove rare counts from the store and rewrite the model file.
  generate         Print generated sentences.
  local            Chat with the model on the terminal.
  serve            Serve the HTTP responder.

Run "babbler <command> --help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	opts := NewOptions()
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	opts.AddFlags(command, fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := opts.Validate(command, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "babbler %s: %v\n\n%s", command, err, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, opts, fs.Args(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "babbler %s: %v\n", command, err)
		stop()
		os.Exit(1)
	}
}

// run loads the configuration and dispatches to the subcommand.
func run(ctx context.Context, command string, opts *Options, args []string, in io.Reader, out io.Writer) error {
	config, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel, err := parseLogLevel(opts.EffectiveLogLevel(config.Core.LogLevel))
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries generated text.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	cm := NewConfigManager(opts.ConfigPath, config, logger)

	switch command {
	case cmdTrain:
		return runTrain(ctx, cm, logger, args[0])
	case cmdPrune:
		return runPrune(ctx, cm, logger, opts.MinFrequency, opts.Vocabulary)
	case cmdGenerate:
		return runGenerate(ctx, cm, logger, opts.Seed, opts.Count, out)
	case cmdLocal:
		return runLocal(ctx, cm, logger, in, out)
	case cmdServe:
		return runServe(ctx, cm, logger)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
