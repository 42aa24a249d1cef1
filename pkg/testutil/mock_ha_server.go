// Package testutil provides testing utilities for the Tapo P105 bridge.
// It contains a mock Home Assistant WebSocket server, a fake helper binary
// and a harness that wires them to the real platforms.
package testutil

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) send(msg Message) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteJSON(msg)
}

// MockHAServer simulates the parts of the Home Assistant WebSocket API the
// bridge uses: auth, get_states, subscribe_events and helper services.
type MockHAServer struct {
	server       *httptest.Server
	token        string
	states       map[string]*EntityState
	statesMu     sync.RWMutex
	connections  []*connWrapper
	connsMu      sync.Mutex
	eventDelay   time.Duration
	serviceCalls []ServiceCall
	callsMu      sync.Mutex
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type request struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// NewMockHAServer starts a mock server on a random local port.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:      token,
		states:     make(map[string]*EntityState),
		eventDelay: 10 * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the WebSocket endpoint.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// SetEventDelay sets the delay before state_changed events are broadcast
func (s *MockHAServer) SetEventDelay(delay time.Duration) {
	s.eventDelay = delay
}

// DropConnections closes every client connection, forcing reconnects.
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
}

// ConnectionCount returns the number of authenticated connections.
func (s *MockHAServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// Stop closes all connections and the listener.
func (s *MockHAServer) Stop() {
	s.DropConnections()
	s.server.Close()
}

// SetState sets a state and broadcasts a state_changed event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state, or nil.
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// StateOf returns the state string of entityID, or "" if unknown.
func (s *MockHAServer) StateOf(entityID string) string {
	if st := s.GetState(entityID); st != nil {
		return st.State
	}
	return ""
}

// InitializePlugHelpers creates the helpers a plug with the given object id
// is mirrored into, all empty or off.
func (s *MockHAServer) InitializePlugHelpers(objectID string) {
	s.SetState("input_boolean."+objectID, "off", map[string]interface{}{"friendly_name": objectID})
	s.SetState("input_boolean."+objectID+"_switch", "off", map[string]interface{}{"friendly_name": objectID + " switch"})
	for _, suffix := range []string{"_state", "_name", "_model", "_firmware", "_hardware", "_mac"} {
		s.SetState("input_text."+objectID+suffix, "", map[string]interface{}{"max": 255})
	}
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	wrapper := &connWrapper{conn: conn}
	wrapper.send(Message{Type: "auth_required"})

	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.send(Message{Type: "auth_invalid"})
		return
	}
	wrapper.send(Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
	}()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe_events":
			s.reply(wrapper, req.ID, nil)
		case "get_states":
			s.handleGetStates(wrapper, req)
		case "call_service":
			s.handleCallService(wrapper, req)
		default:
			s.reply(wrapper, req.ID, nil)
		}
	}
}

func (s *MockHAServer) reply(wrapper *connWrapper, id int, result json.RawMessage) {
	success := true
	wrapper.send(Message{ID: id, Type: "result", Success: &success, Result: result})
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, req request) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	statesJSON, _ := json.Marshal(states)
	s.reply(wrapper, req.ID, statesJSON)
}

// handleCallService records the call and applies helper services. The reply
// is sent after the resulting state_changed event, as Home Assistant does.
func (s *MockHAServer) handleCallService(wrapper *connWrapper, req request) {
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	s.callsMu.Unlock()

	entityID, _ := req.ServiceData["entity_id"].(string)
	old := s.GetState(entityID)

	switch req.Domain {
	case "input_boolean":
		if old != nil {
			newState := "off"
			if req.Service == "turn_on" {
				newState = "on"
			}
			if newState != old.State {
				s.SetState(entityID, newState, old.Attributes)
			}
		}
	case "input_text":
		if value, ok := req.ServiceData["value"].(string); ok && old != nil && value != old.State {
			s.SetState(entityID, value, old.Attributes)
		}
	}

	s.reply(wrapper, req.ID, nil)
}

func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventData, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: "state_changed",
			Data:      eventData,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := append([]*connWrapper(nil), s.connections...)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.send(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]ServiceCall(nil), s.serviceCalls...)
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// CountServiceCalls counts service calls matching domain and service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
