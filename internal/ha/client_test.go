package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const testToken = "test_token"

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// standardAuthFlow handles auth and the initial state_changed subscription
func standardAuthFlow(t *testing.T, conn *websocket.Conn) {
	require.NoError(t, conn.WriteJSON(Message{Type: "auth_required"}))

	var authMsg AuthMessage
	require.NoError(t, conn.ReadJSON(&authMsg))
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, testToken, authMsg.AccessToken)

	require.NoError(t, conn.WriteJSON(Message{Type: "auth_ok"}))

	var subMsg SubscribeEventsRequest
	require.NoError(t, conn.ReadJSON(&subMsg))
	assert.Equal(t, "subscribe_events", subMsg.Type)
	assert.Equal(t, "state_changed", subMsg.EventType)
	reply(t, conn, subMsg.ID, nil)
}

func reply(t *testing.T, conn *websocket.Conn, id int, result interface{}) {
	success := true
	msg := Message{ID: id, Type: "result", Success: &success}
	if result != nil {
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		msg.Result = raw
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func connect(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	client := NewClient(wsURL(server), testToken, logger)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func TestClient_Connect(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("successful connection", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn)
			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		client := NewClient(wsURL(server), testToken, logger)
		assert.NoError(t, client.Connect(context.Background()))
		assert.True(t, client.IsConnected())

		assert.NoError(t, client.Disconnect())
		assert.False(t, client.IsConnected())
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_required"})
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		client := NewClient(wsURL(server), "wrong_token", logger)
		err := client.Connect(context.Background())
		assert.ErrorContains(t, err, "authentication failed")
		assert.False(t, client.IsConnected())
	})

	t.Run("unexpected greeting", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "hello"})
		})
		defer server.Close()

		client := NewClient(wsURL(server), testToken, logger)
		assert.ErrorContains(t, client.Connect(context.Background()), "expected auth_required")
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn)
			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		client := connect(t, server)
		assert.ErrorContains(t, client.Connect(context.Background()), "already connected")
	})
}

func TestClient_GetState(t *testing.T) {
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)

		for i := 0; i < 2; i++ {
			var req GetStatesRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			assert.Equal(t, "get_states", req.Type)
			reply(t, conn, req.ID, []*State{
				{EntityID: "input_boolean.desk_lamp", State: "on"},
				{EntityID: "input_text.desk_lamp_model", State: "P105"},
			})
		}
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := connect(t, server)

	state, err := client.GetState(context.Background(), "input_boolean.desk_lamp")
	require.NoError(t, err)
	assert.Equal(t, "on", state.State)

	_, err = client.GetState(context.Background(), "nonexistent")
	assert.ErrorContains(t, err, "not found")
}

func TestClient_SetHelpers(t *testing.T) {
	longName := strings.Repeat("x", 300)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)

		var req CallServiceRequest
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "call_service", req.Type)
		assert.Equal(t, "input_boolean", req.Domain)
		assert.Equal(t, "turn_on", req.Service)
		assert.Equal(t, "input_boolean.desk_lamp", req.ServiceData["entity_id"])
		reply(t, conn, req.ID, nil)

		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "input_boolean", req.Domain)
		assert.Equal(t, "turn_off", req.Service)
		reply(t, conn, req.ID, nil)

		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "input_text", req.Domain)
		assert.Equal(t, "set_value", req.Service)
		assert.Equal(t, "input_text.desk_lamp_name", req.ServiceData["entity_id"])
		assert.Len(t, req.ServiceData["value"], InputTextMaxLength)
		reply(t, conn, req.ID, nil)

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := connect(t, server)
	ctx := context.Background()

	assert.NoError(t, client.SetInputBoolean(ctx, "desk_lamp", true))
	assert.NoError(t, client.SetInputBoolean(ctx, "desk_lamp", false))
	assert.NoError(t, client.SetInputText(ctx, "desk_lamp_name", longName))
}

func TestClient_CallServiceError(t *testing.T) {
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)

		var req CallServiceRequest
		require.NoError(t, conn.ReadJSON(&req))
		failure := false
		conn.WriteJSON(Message{
			ID:      req.ID,
			Type:    "result",
			Success: &failure,
			Error:   &Error{Code: "not_found", Message: "Service not found"},
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := connect(t, server)
	err := client.CallService(context.Background(), "input_boolean", "turn_on", nil)
	assert.ErrorContains(t, err, "not_found")
	assert.ErrorContains(t, err, "input_boolean.turn_on")
}

func TestClient_StateChangedEvents(t *testing.T) {
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)

		data, _ := json.Marshal(StateChangedEvent{
			EntityID: "input_boolean.desk_lamp_switch",
			OldState: &State{EntityID: "input_boolean.desk_lamp_switch", State: "off"},
			NewState: &State{EntityID: "input_boolean.desk_lamp_switch", State: "on"},
		})
		// Give the test time to subscribe.
		time.Sleep(50 * time.Millisecond)
		conn.WriteJSON(Message{
			Type:  "event",
			Event: &Event{EventType: "state_changed", Data: data},
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := connect(t, server)

	got := make(chan string, 1)
	_, err := client.SubscribeStateChanges("input_boolean.desk_lamp_switch", func(entityID string, oldState, newState *State) {
		got <- newState.State
	})
	require.NoError(t, err)

	select {
	case state := <-got:
		assert.Equal(t, "on", state)
	case <-time.After(2 * time.Second):
		t.Fatal("state_changed event not delivered")
	}
}

func TestClient_NotConnected(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	client := NewClient("ws://127.0.0.1:1", testToken, logger)

	err := client.SetInputBoolean(context.Background(), "x", true)
	assert.ErrorContains(t, err, "not connected")
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	t.Run("connection", func(t *testing.T) {
		assert.False(t, mock.IsConnected())
		assert.NoError(t, mock.Connect(ctx))
		assert.True(t, mock.IsConnected())
		assert.Error(t, mock.Connect(ctx))
		assert.NoError(t, mock.Disconnect())
		assert.False(t, mock.IsConnected())
	})

	t.Run("service calls update state", func(t *testing.T) {
		mock.ClearServiceCalls()

		require.NoError(t, mock.SetInputBoolean(ctx, "desk_lamp", true))
		require.NoError(t, mock.SetInputText(ctx, "desk_lamp_model", "P105"))

		calls := mock.GetServiceCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "input_boolean.desk_lamp", calls[0].EntityID())
		assert.Equal(t, "turn_on", calls[0].Service)
		assert.Equal(t, "on", mock.StateOf("input_boolean.desk_lamp"))
		assert.Equal(t, "P105", mock.StateOf("input_text.desk_lamp_model"))
	})

	t.Run("subscriptions", func(t *testing.T) {
		var calls int32
		sub, err := mock.SubscribeStateChanges("input_boolean.desk_lamp_switch", func(entityID string, oldState, newState *State) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, "off", newState.State)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, mock.SubscriberCount("input_boolean.desk_lamp_switch"))

		mock.SetState("input_boolean.desk_lamp_switch", "off", nil)
		require.NoError(t, sub.Unsubscribe())
		mock.SetState("input_boolean.desk_lamp_switch", "off", nil)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, 0, mock.SubscriberCount("input_boolean.desk_lamp_switch"))
	})

	t.Run("reconnect hooks", func(t *testing.T) {
		ran := false
		mock.OnReconnect(func() { ran = true })
		mock.SimulateReconnect()
		assert.True(t, ran)
	})
}
