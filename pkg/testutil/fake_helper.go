package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tapop105/internal/tapocli"
)

// FakeHelper stands in for the tapo2 binary. It keeps a relay state that
// on and off change and info reports.
type FakeHelper struct {
	mu       sync.Mutex
	status   tapocli.DeviceStatus
	password string
	stderr   string
	timeout  bool
	empty    int
	calls    [][]string
}

// NewFakeHelper creates a helper for a plug that accepts password.
func NewFakeHelper(deviceID, nickname, password string) *FakeHelper {
	return &FakeHelper{
		password: password,
		status: tapocli.DeviceStatus{
			tapocli.KeyDeviceID:  deviceID,
			tapocli.KeyNickname:  nickname,
			tapocli.KeyDeviceOn:  false,
			tapocli.KeyModel:     "P105",
			tapocli.KeySWVersion: "1.0.7 Build 210629 Rel.174901",
			tapocli.KeyHWVersion: "1.0",
			tapocli.KeyMAC:       "AA-BB-CC-DD-EE-0F",
		},
	}
}

// Run implements tapocli.Runner.
func (h *FakeHelper) Run(ctx context.Context, args []string, timeout time.Duration) (tapocli.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, append([]string(nil), args...))

	if h.timeout {
		return tapocli.Result{TimedOut: true}, nil
	}
	if h.stderr != "" {
		return tapocli.Result{Stderr: h.stderr}, nil
	}
	if len(args) != 4 || args[2] != h.password {
		return tapocli.Result{Stderr: "Login failed: invalid credentials"}, nil
	}

	switch args[3] {
	case tapocli.CommandOn:
		h.status[tapocli.KeyDeviceOn] = true
	case tapocli.CommandOff:
		h.status[tapocli.KeyDeviceOn] = false
	case tapocli.CommandInfo:
		if h.empty > 0 {
			h.empty--
			return tapocli.Result{}, nil
		}
		out, err := json.Marshal(h.status)
		if err != nil {
			return tapocli.Result{}, err
		}
		return tapocli.Result{Stdout: string(out)}, nil
	}
	return tapocli.Result{}, nil
}

// IsOn reports the relay state.
func (h *FakeHelper) IsOn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	on, _ := h.status[tapocli.KeyDeviceOn].(bool)
	return on
}

// SetOn flips the relay as if the plug's button was pressed.
func (h *FakeHelper) SetOn(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[tapocli.KeyDeviceOn] = on
}

// SetUnreachable makes every run time out until cleared.
func (h *FakeHelper) SetUnreachable(unreachable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = unreachable
}

// SetStderr makes every run fail with text on stderr; "" clears it.
func (h *FakeHelper) SetStderr(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stderr = text
}

// SetEmptyOutputs makes the next n info runs print nothing.
func (h *FakeHelper) SetEmptyOutputs(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.empty = n
}

// Commands returns the command argument of every run so far.
func (h *FakeHelper) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.calls))
	for _, args := range h.calls {
		if len(args) == 4 {
			out = append(out, args[3])
		}
	}
	return out
}
