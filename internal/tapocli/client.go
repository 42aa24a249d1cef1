package tapocli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the hard limit on one helper run.
	DefaultTimeout = 10 * time.Second

	// MaxAttempts bounds how often info is re-run while the helper prints
	// nothing. There is no delay between attempts.
	MaxAttempts = 5
)

// Helper commands.
const (
	CommandInfo = "info"
	CommandOn   = "on"
	CommandOff  = "off"
)

// Credentials identify and authenticate against one plug.
type Credentials struct {
	Address  string
	Username string
	Password string
}

// Observer receives one call per helper run and one per empty-output retry.
type Observer interface {
	ObserveInvocation(command, result string, duration time.Duration)
	IncEmptyRetry()
}

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout  time.Duration
	Observer Observer
}

// Client drives the helper binary for one device. It holds no state besides
// its construction arguments, so concurrent calls are safe and each spawns
// its own process.
type Client struct {
	creds    Credentials
	runner   Runner
	timeout  time.Duration
	observer Observer
	logger   *zap.Logger
}

// NewClient creates a client for the device described by creds.
func NewClient(creds Credentials, runner Runner, logger *zap.Logger, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		creds:    creds,
		runner:   runner,
		timeout:  timeout,
		observer: opts.Observer,
		logger:   logger.Named("tapocli").With(zap.String("address", creds.Address)),
	}
}

// Address returns the device address this client talks to.
func (c *Client) Address() string {
	return c.creds.Address
}

// Info queries the device and decodes its status.
func (c *Client) Info(ctx context.Context) (DeviceStatus, error) {
	raw, err := c.RawInfo(ctx)
	if err != nil {
		return nil, err
	}

	status, err := decodeStatus(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Command: CommandInfo, Err: err}
	}
	return status, nil
}

// decodeStatus parses one JSON object. Numbers are kept as json.Number so
// integers of any size come back exactly as the helper printed them.
func decodeStatus(raw string) (DeviceStatus, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var status DeviceStatus
	if err := dec.Decode(&status); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	if status == nil {
		return nil, fmt.Errorf("output is not a JSON object")
	}
	return status, nil
}

// RawInfo runs the info command until it prints something, up to
// MaxAttempts times. If every attempt is empty it returns "" and no error.
func (c *Client) RawInfo(ctx context.Context) (string, error) {
	var out string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		var err error
		out, err = c.exec(ctx, CommandInfo)
		if err != nil {
			return "", err
		}
		if out != "" {
			return out, nil
		}
		if attempt < MaxAttempts {
			c.logger.Debug("Empty info output, retrying", zap.Int("attempt", attempt))
			if c.observer != nil {
				c.observer.IncEmptyRetry()
			}
		}
	}

	c.logger.Warn("Helper returned no info output", zap.Int("attempts", MaxAttempts))
	return out, nil
}

// IsOn reports whether the plug's relay is closed.
func (c *Client) IsOn(ctx context.Context) (bool, error) {
	status, err := c.Info(ctx)
	if err != nil {
		return false, err
	}
	on, ok := status.Bool(KeyDeviceOn)
	if !ok {
		return false, &Error{Kind: KindInvalidResponse, Command: CommandInfo, Err: fmt.Errorf("missing %q", KeyDeviceOn)}
	}
	return on, nil
}

// On switches the plug on. The device's resulting state is not confirmed.
func (c *Client) On(ctx context.Context) error {
	_, err := c.exec(ctx, CommandOn)
	return err
}

// Off switches the plug off. The device's resulting state is not confirmed.
func (c *Client) Off(ctx context.Context) error {
	_, err := c.exec(ctx, CommandOff)
	return err
}

// exec runs one helper command and classifies its failure.
func (c *Client) exec(ctx context.Context, command string) (string, error) {
	args := []string{c.creds.Address, c.creds.Username, c.creds.Password, command}

	start := time.Now()
	res, err := c.runner.Run(ctx, args, c.timeout)
	kind := KindNone
	defer func() {
		if c.observer != nil {
			c.observer.ObserveInvocation(command, kind.String(), time.Since(start))
		}
	}()

	if err != nil {
		kind = KindUnknown
		return "", &Error{Kind: kind, Command: command, Err: err}
	}
	if res.TimedOut {
		kind = KindInvalidAddress
		c.logger.Info("tapo2 timed out",
			zap.String("command", command),
			zap.Duration("timeout", c.timeout))
		return "", &Error{Kind: kind, Command: command, Err: context.DeadlineExceeded}
	}
	if res.Stderr != "" {
		c.logger.Info("tapo2 stderr",
			zap.String("command", command),
			zap.String("stderr", res.Stderr))
		kind = Classify(res.Stderr)
		return "", &Error{Kind: kind, Command: command, Stderr: res.Stderr}
	}

	c.logger.Info("tapo2 stdout",
		zap.String("command", command),
		zap.String("stdout", res.Stdout))
	return res.Stdout, nil
}
