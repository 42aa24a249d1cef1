package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"tapop105/internal/config"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

// credentialFlags are shared by the commands that talk to a single plug.
type credentialFlags struct {
	entry    string
	ip       string
	username string
	password string
}

func (c *credentialFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.entry, "entry", "", "object id or unique id of a saved config entry")
	fs.StringVar(&c.ip, "ip", "", "plug IP address")
	fs.StringVar(&c.username, "username", "", "Tapo account username")
	fs.StringVar(&c.password, "password", "", "Tapo account password")
}

// resolve returns the credentials from flags, or from the saved entry
// named by -entry.
func (c *credentialFlags) resolve(settings config.Settings, logger *zap.Logger) (tapocli.Credentials, error) {
	if c.entry == "" {
		if c.ip == "" || c.username == "" || c.password == "" {
			return tapocli.Credentials{}, fmt.Errorf("-ip, -username and -password are required without -entry")
		}
		return tapocli.Credentials{Address: c.ip, Username: c.username, Password: c.password}, nil
	}

	loader := config.NewLoader(settings.ConfigDir, logger)
	if err := loader.Load(); err != nil {
		return tapocli.Credentials{}, err
	}
	if entry, ok := loader.FindByUniqueID(c.entry); ok {
		return entry.Credentials(), nil
	}
	for _, entry := range loader.Entries() {
		if entry.Slug() == c.entry {
			return entry.Credentials(), nil
		}
	}
	return tapocli.Credentials{}, fmt.Errorf("no config entry %q in %s", c.entry, loader.Path())
}

func deviceCmd(settings config.Settings, logger *zap.Logger, command string, args []string) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var creds credentialFlags
	creds.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c, err := creds.resolve(settings, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 2
	}

	client := tapocli.NewClient(c, newRunner(settings.HelperPath), logger,
		tapocli.Options{Timeout: settings.HelperTimeout})
	ctx := context.Background()

	switch command {
	case tapocli.CommandOn:
		err = client.On(ctx)
	case tapocli.CommandOff:
		err = client.Off(ctx)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 1
	}

	status, err := client.Info(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "info: %v\n", err)
		return 1
	}
	printJSON(status)
	return 0
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "format json: %v\n", err)
		return
	}
	fmt.Fprintln(stdout, string(data))
}
