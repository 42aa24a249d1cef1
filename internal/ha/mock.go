package ha

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockClient implements HAClient in memory for tests
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	subscribers *subscriberSet

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	callsMu      sync.Mutex

	// CallErr, when set, is returned by every service call.
	CallErr error

	hooksMu     sync.Mutex
	reconnected []func()
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// EntityID returns the entity_id the call targeted.
func (s ServiceCall) EntityID() string {
	id, _ := s.Data["entity_id"].(string)
	return id
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: newSubscriberSet(),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect(context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	m.subscribers.clear()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// OnReconnect registers fn for SimulateReconnect.
func (m *MockClient) OnReconnect(fn func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.reconnected = append(m.reconnected, fn)
}

// SimulateReconnect runs the reconnect hooks.
func (m *MockClient) SimulateReconnect() {
	m.hooksMu.Lock()
	hooks := append([]func(){}, m.reconnected...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// GetState retrieves a mock state
func (m *MockClient) GetState(_ context.Context, entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates(context.Context) ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// CallService records a service call and applies it to the mock state
func (m *MockClient) CallService(_ context.Context, domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.CallErr
	m.callsMu.Unlock()

	if err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	return m.subscribers.add(m, entityID, handler), nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subscribers.remove(entityID, subID)
	return nil
}

// SubscriberCount returns how many handlers watch entityID.
func (m *MockClient) SubscriberCount(entityID string) int {
	return m.subscribers.count(entityID)
}

// SetInputBoolean sets a mock input_boolean
func (m *MockClient) SetInputBoolean(ctx context.Context, objectID string, value bool) error {
	return m.CallService(ctx, "input_boolean", inputBooleanService(value), map[string]interface{}{
		"entity_id": "input_boolean." + objectID,
	})
}

// SetInputText sets a mock input_text
func (m *MockClient) SetInputText(ctx context.Context, objectID string, value string) error {
	return m.CallService(ctx, "input_text", "set_value", map[string]interface{}{
		"entity_id": "input_text." + objectID,
		"value":     truncateText(value),
	})
}

// SetState sets a mock state and notifies subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.statesMu.Lock()
	oldState := m.states[entityID]
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subscribers.notify(entityID, oldState, newState)
}

// StateOf returns the current mock state value, or "" if unknown.
func (m *MockClient) StateOf(entityID string) string {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	if s, ok := m.states[entityID]; ok {
		return s.State
	}
	return ""
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	if !strings.HasPrefix(entityID, domain+".") {
		return
	}

	m.statesMu.Lock()
	oldState := m.states[entityID]
	value := ""
	attributes := map[string]interface{}{}
	if oldState != nil {
		value = oldState.State
		attributes = oldState.Attributes
	}

	switch domain {
	case "input_boolean":
		switch service {
		case "turn_on":
			value = "on"
		case "turn_off":
			value = "off"
		}
	case "input_text":
		if v, ok := data["value"].(string); ok {
			value = v
		}
	}

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subscribers.notify(entityID, oldState, newState)
}
