package mqttdiscovery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tapop105/internal/clock"
	"tapop105/internal/config"
	"tapop105/internal/coordinator"
	"tapop105/internal/platform"
	"tapop105/internal/tapocli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]string
	count     int
	handlers  map[string]func([]byte)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		published: make(map[string]string),
		handlers:  make(map[string]func([]byte)),
	}
}

func (p *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[topic] = string(payload)
	p.count++
	return nil
}

func (p *fakePublisher) Subscribe(topic string, handler func([]byte)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = handler
	return func() {
		p.mu.Lock()
		delete(p.handlers, topic)
		p.mu.Unlock()
	}, nil
}

func (p *fakePublisher) deliver(topic, payload string) {
	p.mu.Lock()
	h := p.handlers[topic]
	p.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

func (p *fakePublisher) get(topic string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[topic]
}

func (p *fakePublisher) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

type fakePlug struct {
	mu       sync.Mutex
	on       bool
	err      error
	commands []string
}

func (p *fakePlug) Info(context.Context) (tapocli.DeviceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return tapocli.DeviceStatus{
		"device_id": "8022ABC",
		"nickname":  "desk lamp",
		"device_on": p.on,
		"model":     "P105",
		"mac":       "AABBCCDDEE0F",
	}, nil
}

func (p *fakePlug) On(context.Context) error  { return p.set(true, "on") }
func (p *fakePlug) Off(context.Context) error { return p.set(false, "off") }

func (p *fakePlug) set(on bool, command string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on = on
	p.commands = append(p.commands, command)
	return nil
}

func (p *fakePlug) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func setup(t *testing.T, readOnly bool) (*Manager, *fakePlug, *coordinator.Coordinator, *fakePublisher) {
	t.Helper()
	plug := &fakePlug{}
	c := coordinator.New("desk", plug, zap.NewNop(), clock.NewMockClock(time.Unix(0, 0)), 0)
	require.NoError(t, c.FirstRefresh(context.Background()))

	pub := newFakePublisher()
	m, err := NewManager(c, plug, pub, "homeassistant", "desk_lamp", zap.NewNop(), readOnly)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, plug, c, pub
}

func TestManager_Announce(t *testing.T) {
	_, _, _, pub := setup(t, false)

	raw := pub.get("homeassistant/switch/desk_lamp/config")
	require.NotEmpty(t, raw)

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Equal(t, "Desk Lamp Switch", cfg.Name)
	assert.Equal(t, "tapo_p105_8022abc_switch", cfg.UniqueID)
	assert.Equal(t, "tapo_p105/desk_lamp/set", cfg.CommandTopic)
	assert.Equal(t, "tapo_p105/desk_lamp/state", cfg.StateTopic)
	assert.Equal(t, "outlet", cfg.DeviceClass)
	assert.Equal(t, []string{"tapo_p105_8022ABC"}, cfg.Device.Identifiers)
	assert.Equal(t, [][2]string{{"mac", "aa:bb:cc:dd:ee:0f"}}, cfg.Device.Connections)
	assert.Equal(t, "TAPO", cfg.Device.Manufacturer)
	require.Len(t, cfg.Availability, 2)
	assert.Equal(t, "tapo_p105/bridge/availability", cfg.Availability[0].Topic)

	cfg = Config{}
	require.NoError(t, json.Unmarshal([]byte(pub.get("homeassistant/binary_sensor/desk_lamp/config")), &cfg))
	assert.Equal(t, "plug", cfg.DeviceClass)
	assert.Empty(t, cfg.CommandTopic)

	assert.Equal(t, "OFF", pub.get("tapo_p105/desk_lamp/state"))
	assert.Equal(t, "online", pub.get("tapo_p105/desk_lamp/availability"))
	assert.Contains(t, pub.get("tapo_p105/desk_lamp/attributes"), `"device_class":"plug"`)
}

func TestManager_CommandSwitchesPlug(t *testing.T) {
	_, plug, _, pub := setup(t, false)

	pub.deliver("tapo_p105/desk_lamp/set", "ON")
	require.Eventually(t, func() bool {
		return pub.get("tapo_p105/desk_lamp/state") == "ON"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"on"}, plug.Commands())

	pub.deliver("tapo_p105/desk_lamp/set", "bogus")
	pub.deliver("tapo_p105/desk_lamp/set", " off ")
	require.Eventually(t, func() bool {
		return pub.get("tapo_p105/desk_lamp/state") == "OFF"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"on", "off"}, plug.Commands())
}

func TestManager_Availability(t *testing.T) {
	_, plug, c, pub := setup(t, false)

	plug.mu.Lock()
	plug.err = &tapocli.Error{Kind: tapocli.KindInvalidAddress}
	plug.mu.Unlock()
	assert.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, "offline", pub.get("tapo_p105/desk_lamp/availability"))

	plug.mu.Lock()
	plug.err = nil
	plug.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, "online", pub.get("tapo_p105/desk_lamp/availability"))
}

func TestManager_SkipsUnchanged(t *testing.T) {
	_, _, c, pub := setup(t, false)

	before := pub.publishCount()
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, before, pub.publishCount())
}

func TestManager_HomeAssistantRestart(t *testing.T) {
	_, _, _, pub := setup(t, false)

	before := pub.publishCount()
	pub.deliver("homeassistant/status", "online")
	require.Eventually(t, func() bool {
		return pub.publishCount() > before
	}, time.Second, 5*time.Millisecond)
}

func TestManager_StopPublishesOffline(t *testing.T) {
	m, _, _, pub := setup(t, false)
	m.Stop()

	assert.Equal(t, "offline", pub.get("tapo_p105/desk_lamp/availability"))
	pub.mu.Lock()
	assert.Empty(t, pub.handlers)
	pub.mu.Unlock()
}

func TestManager_ReadOnly(t *testing.T) {
	_, plug, _, pub := setup(t, true)
	assert.Equal(t, 0, pub.publishCount())

	pub.deliver("tapo_p105/desk_lamp/set", "ON")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, plug.Commands())
}

func TestCreatePlatform(t *testing.T) {
	plug := &fakePlug{}
	c := coordinator.New("desk", plug, zap.NewNop(), nil, 0)
	require.NoError(t, c.FirstRefresh(context.Background()))

	pctx := &platform.Context{
		Entry:       config.Entry{UniqueID: "8022ABC", Title: "Desk Lamp"},
		Coordinator: c,
		Device:      plug,
		Logger:      zap.NewNop(),
	}
	_, err := createPlatform(pctx)
	assert.ErrorIs(t, err, platform.ErrNotApplicable)

	pctx.MQTT = newFakePublisher()
	p, err := createPlatform(pctx)
	require.NoError(t, err)
	assert.Equal(t, "mqtt", p.Name())
}
