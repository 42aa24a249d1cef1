package testutil

import (
	"context"
	"fmt"
	"time"

	"tapop105/internal/clock"
	"tapop105/internal/config"
	"tapop105/internal/coordinator"
	"tapop105/internal/ha"
	"tapop105/internal/platform"
	_ "tapop105/internal/platform/binarysensor"
	_ "tapop105/internal/platform/plugswitch"
	_ "tapop105/internal/platform/sensor"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

// Default credentials and identity of the plug a TestEnv brings up.
const (
	TestToken    = "test_token_12345"
	TestDeviceID = "8022ABC"
	TestNickname = "desk lamp"
	TestPassword = "secret"
	TestObjectID = "desk_lamp"
)

// TestEnv is one plug brought up against a mock Home Assistant: the real
// HA client, helper client, coordinator and platforms, with the helper
// binary replaced by a FakeHelper and time by a MockClock.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv()
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
type TestEnv struct {
	Server      *MockHAServer
	HAClient    *ha.Client
	Helper      *FakeHelper
	Client      *tapocli.Client
	Coordinator *coordinator.Coordinator
	Clock       *clock.MockClock
	Platforms   []platform.Platform
	Entry       config.Entry
	Logger      *zap.Logger
}

// NewTestEnv starts the mock server, connects, performs the first refresh
// and starts every applicable platform.
func NewTestEnv() (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(TestToken)
	server.SetEventDelay(0)
	server.InitializePlugHelpers(TestObjectID)

	env := &TestEnv{
		Server: server,
		Helper: NewFakeHelper(TestDeviceID, TestNickname, TestPassword),
		Clock:  clock.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Logger: logger,
		Entry: config.Entry{
			EntryID:  "entry-1",
			UniqueID: TestDeviceID,
			Title:    TestNickname,
			Version:  config.EntryVersion,
			Data: config.EntryData{
				IPAddress: "192.168.1.50",
				Username:  "user@example.com",
				Password:  TestPassword,
			},
			ObjectID: TestObjectID,
		},
	}

	ctx := context.Background()
	env.HAClient = ha.NewClient(server.URL(), TestToken, logger)
	if err := env.HAClient.Connect(ctx); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	env.Client = tapocli.NewClient(env.Entry.Credentials(), env.Helper, logger, tapocli.Options{})
	env.Coordinator = coordinator.New(TestObjectID, env.Client, logger, env.Clock, time.Minute)
	if err := env.Coordinator.FirstRefresh(ctx); err != nil {
		env.Cleanup()
		return nil, err
	}

	platforms, err := platform.CreateAll(&platform.Context{
		Entry:       env.Entry,
		Coordinator: env.Coordinator,
		Device:      env.Client,
		HAClient:    env.HAClient,
		Logger:      logger,
	})
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to create platforms: %w", err)
	}
	if err := platform.StartAll(ctx, platforms); err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to start platforms: %w", err)
	}
	env.Platforms = platforms
	env.Coordinator.Start()

	return env, nil
}

// Poll fires the coordinator's timer once.
func (e *TestEnv) Poll() {
	e.Clock.Advance(e.Coordinator.Interval())
}

// Cleanup stops all components in reverse order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	platform.StopAll(e.Platforms)
	e.Platforms = nil
	if e.Coordinator != nil {
		e.Coordinator.Stop()
	}
	if e.HAClient != nil {
		e.HAClient.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}
