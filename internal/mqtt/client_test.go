package mqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts, err := Options(Config{
		Broker:            "tcp://mqtt.local:1883",
		Username:          "bridge",
		Password:          "secret",
		ClientID:          "tapo-test",
		AvailabilityTopic: "tapo_p105/bridge/availability",
	})
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "mqtt.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "tapo-test", opts.ClientID)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "tapo_p105/bridge/availability", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
}

func TestOptions_Defaults(t *testing.T) {
	opts, err := Options(Config{Broker: "mqtt.local:1883"})
	require.NoError(t, err)

	assert.Equal(t, "tcp", opts.Servers[0].Scheme)
	assert.True(t, strings.HasPrefix(opts.ClientID, "tapo-p105-"))
	assert.Len(t, opts.ClientID, len("tapo-p105-")+12)
	assert.False(t, opts.WillEnabled)

	_, err = Options(Config{})
	assert.ErrorContains(t, err, "broker is required")
}

func TestDispatch_FansOutPerTopic(t *testing.T) {
	c := &Client{subs: make(map[string]map[int]func([]byte))}

	var got []string
	c.subs["a/set"] = map[int]func([]byte){
		1: func(p []byte) { got = append(got, "first:"+string(p)) },
	}
	c.subs["b/set"] = map[int]func([]byte){
		2: func(p []byte) { got = append(got, "other:"+string(p)) },
	}

	c.dispatch(nil, fakeMessage{topic: "a/set", payload: []byte("ON")})
	assert.Equal(t, []string{"first:ON"}, got)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
