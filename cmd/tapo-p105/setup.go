package main

import (
	"context"
	"flag"
	"fmt"

	"tapop105/internal/config"
	"tapop105/internal/configflow"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

func setupCmd(settings config.Settings, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var creds credentialFlags
	creds.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	loader := config.NewLoader(settings.ConfigDir, logger)
	if err := loader.Load(); err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 1
	}

	runner := newRunner(settings.HelperPath)
	flow := configflow.New(loader, func(c tapocli.Credentials) configflow.InfoClient {
		return tapocli.NewClient(c, runner, logger, tapocli.Options{Timeout: settings.HelperTimeout})
	}, logger)

	result, err := flow.Step(context.Background(), &configflow.Input{
		IPAddress: creds.ip,
		Username:  creds.username,
		Password:  creds.password,
	})
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 1
	}

	switch result.Type {
	case configflow.ResultCreateEntry:
		fmt.Fprintf(stdout, "Added %q (%s) to %s\n", result.Title, result.Entry.UniqueID, loader.Path())
		return 0
	case configflow.ResultAbort:
		fmt.Fprintf(stderr, "setup aborted: %s\n", result.Reason)
		return 1
	default:
		for field, key := range result.Errors {
			fmt.Fprintf(stderr, "%s: %s\n", field, key)
		}
		return 1
	}
}
