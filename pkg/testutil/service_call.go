package testutil

import "time"

// ServiceCall records a service call received by the mock server
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// EntityID returns the call's target entity, or "".
func (c ServiceCall) EntityID() string {
	id, _ := c.ServiceData["entity_id"].(string)
	return id
}

// FilterServiceCalls filters service calls by domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// CallsForEntity returns the calls that targeted entityID, oldest first
func CallsForEntity(calls []ServiceCall, entityID string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.EntityID() == entityID {
			filtered = append(filtered, call)
		}
	}
	return filtered
}
