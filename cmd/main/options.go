package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

const (
	cmdTrain    = "train"
	cmdPrune    = "prune"
	cmdGenerate = "generate"
	cmdLocal    = "local"
	cmdServe    = "serve"
)

// DefaultConfigPath is where the configuration is read from and created at.
const DefaultConfigPath = "./config.yaml"

// Options contains the command-line configuration of one subcommand.
type Options struct {
	ConfigPath string // Path of the YAML configuration file.
	LogLevel   string // Overrides core.log_level when set.
	//
	// generate
	//
	Count int    // Number of sentences to print.
	Seed  string // Word every generated sentence must contain.
	//
	// prune
	//
	MinFrequency int  // Counts or tokens seen less often are removed.
	Vocabulary   bool // Prune rare tokens instead of rare transitions.

	// internal
	fs *pflag.FlagSet // FlagSet used in AddFlags() and consulted in EffectiveLogLevel()
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	return &Options{
		ConfigPath:   DefaultConfigPath,
		Count:        1,
		MinFrequency: 2,
	}
}

// AddFlags binds the Options fields used by command to flags on the given FlagSet.
func (opts *Options) AddFlags(command string, fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath,
		"Path of the YAML configuration file. Created with defaults if missing.")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel,
		"Log level (debug, info, warn, error). Overrides core.log_level.")

	switch command {
	case cmdGenerate:
		fs.IntVarP(&opts.Count, "count", "n", opts.Count,
			"Number of sentences to generate. 0 keeps generating until interrupted.")
		fs.StringVarP(&opts.Seed, "seed", "s", opts.Seed,
			"Word every generated sentence must contain. Empty picks any context.")
	case cmdPrune:
		fs.IntVar(&opts.MinFrequency, "min-frequency", opts.MinFrequency,
			"Stored counts (or, with --vocabulary, tokens) seen fewer times are removed.")
		fs.BoolVar(&opts.Vocabulary, "vocabulary", opts.Vocabulary,
			"Prune rare tokens and every context containing them, instead of rare transitions.")
	}
}

// Validate checks the parsed flags and positional arguments of command.
func (opts *Options) Validate(command string, args []string) error {
	if opts.ConfigPath == "" {
		return errors.New("--config must not be empty")
	}
	if opts.LogLevel != "" {
		if _, err := parseLogLevel(opts.LogLevel); err != nil {
			return err
		}
	}

	switch command {
	case cmdTrain:
		if len(args) != 1 {
			return fmt.Errorf("%s takes exactly one corpus file, got %d arguments", command, len(args))
		}
	case cmdGenerate:
		if opts.Count < 0 {
			return fmt.Errorf("--count must not be negative, got %d", opts.Count)
		}
	case cmdPrune:
		if opts.MinFrequency < 1 {
			return fmt.Errorf("--min-frequency must be positive, got %d", opts.MinFrequency)
		}
	case cmdLocal, cmdServe:
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	if command != cmdTrain && len(args) > 0 {
		return fmt.Errorf("%s takes no arguments, got %q", command, args)
	}
	return nil
}

// EffectiveLogLevel returns the --log-level flag if it was given, otherwise configured.
func (opts *Options) EffectiveLogLevel(configured string) string {
	if opts.fs != nil && opts.fs.Changed("log-level") {
		return opts.LogLevel
	}
	return configured
}
