package main

import (
	"fmt"
	"io"
	"os"

	"tapop105/internal/config"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output streams and the helper runner, replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	newRunner = func(path string) tapocli.Runner { return tapocli.NewExecRunner(path) }
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}

	settings, err := config.LoadSettings(logger)
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	logger, err = newLogger(settings.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	return dispatch(settings, logger, os.Args[1:])
}

// dispatch runs the subcommand named by argv[0] and returns the exit code.
func dispatch(settings config.Settings, logger *zap.Logger, argv []string) int {
	cmd, args := "serve", []string(nil)
	if len(argv) > 0 {
		cmd, args = argv[0], argv[1:]
	}

	switch cmd {
	case "serve":
		return serveCmd(settings, logger, args)
	case "setup":
		return setupCmd(settings, logger, args)
	case "info", "on", "off":
		return deviceCmd(settings, logger, cmd, args)
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		usage()
		return 2
	}
}

// newLogger builds the production logger, or the development one at debug.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func usage() {
	fmt.Fprint(stderr, `usage: tapo-p105 <command> [flags]

commands:
  serve                 poll configured plugs and expose them (default)
  setup                 validate a plug and save it as a config entry
  info|on|off           run one helper command against a plug

Run "tapo-p105 <command> -h" for the flags of a command.
`)
}
