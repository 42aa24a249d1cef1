package ha

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is the envelope of every WebSocket frame exchanged with Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is an error result returned by Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the auth request sent after auth_required
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is the payload of an event frame
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the data of a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is an entity state as reported by Home Assistant
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// CallServiceRequest is a call_service command
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// GetStatesRequest is a get_states command
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest is a subscribe_events command
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// StateChangeHandler is called when a subscribed entity changes state
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active per-entity subscription
type Subscription interface {
	Unsubscribe() error
}

type unsubscriber interface {
	unsubscribe(entityID string, subID int) error
}

type subscription struct {
	entityID string
	subID    int
	owner    unsubscriber
}

func (s *subscription) Unsubscribe() error {
	return s.owner.unsubscribe(s.entityID, s.subID)
}

type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// subscriberSet tracks per-entity handlers. Shared by the real and mock clients.
type subscriberSet struct {
	mu      sync.Mutex
	entries map[string][]subscriberEntry
	nextID  int
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{entries: make(map[string][]subscriberEntry)}
}

func (s *subscriberSet) add(owner unsubscriber, entityID string, handler StateChangeHandler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	subID := s.nextID
	s.nextID++
	s.entries[entityID] = append(s.entries[entityID], subscriberEntry{subID: subID, handler: handler})
	return &subscription{entityID: entityID, subID: subID, owner: owner}
}

func (s *subscriberSet) remove(entityID string, subID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.entries[entityID]
	if !ok {
		return
	}
	for i, entry := range entries {
		if entry.subID == subID {
			s.entries[entityID] = append(entries[:i:i], entries[i+1:]...)
			if len(s.entries[entityID]) == 0 {
				delete(s.entries, entityID)
			}
			return
		}
	}
}

func (s *subscriberSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]subscriberEntry)
}

func (s *subscriberSet) count(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[entityID])
}

// notify calls every handler for entityID outside the lock.
func (s *subscriberSet) notify(entityID string, oldState, newState *State) {
	s.mu.Lock()
	entries := append([]subscriberEntry(nil), s.entries[entityID]...)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
