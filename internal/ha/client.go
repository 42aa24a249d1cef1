package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Limits of the input_text helper domain.
const InputTextMaxLength = 255

const (
	defaultRequestTimeout = 10 * time.Second
	initialBackoff        = time.Second
	maxBackoff            = 30 * time.Second
)

// HAClient is the subset of the Home Assistant WebSocket API used to mirror
// plug state into helper entities and receive commands from them.
type HAClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	GetState(ctx context.Context, entityID string) (*State, error)
	GetAllStates(ctx context.Context) ([]*State, error)
	CallService(ctx context.Context, domain, service string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SetInputBoolean(ctx context.Context, objectID string, value bool) error
	SetInputText(ctx context.Context, objectID string, value string) error
	OnReconnect(fn func())
}

// Client implements HAClient over a single WebSocket connection
type Client struct {
	url            string
	token          string
	logger         *zap.Logger
	requestTimeout time.Duration

	conn      *websocket.Conn
	connected bool
	reconnect bool
	connMu    sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	subscribers *subscriberSet

	hooksMu     sync.Mutex
	reconnected []func()

	writeMu sync.Mutex // Protects websocket writes
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:            url,
		token:          token,
		logger:         logger.Named("ha"),
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[int]chan Message),
		subscribers:    newSubscriberSet(),
		ctx:            ctx,
		cancel:         cancel,
		reconnect:      true,
	}
}

// OnReconnect registers fn to run after every successful reconnect.
func (c *Client) OnReconnect(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.reconnected = append(c.reconnected, fn)
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, err := c.handshake(ctx)
	if err != nil {
		c.connMu.Unlock()
		return err
	}

	c.conn = conn
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))

	go c.receiveMessages(c.ctx, conn)

	// Release lock before subscribing; the response is routed by receiveMessages.
	c.connMu.Unlock()

	if err := c.subscribeToStateChanges(ctx); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	return nil
}

// handshake dials and runs the auth exchange.
func (c *Client) handshake(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	fail := func(err error) (*websocket.Conn, error) {
		conn.Close()
		return nil, err
	}

	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fail(fmt.Errorf("failed to read auth_required: %w", err))
	}
	if authRequired.Type != "auth_required" {
		return fail(fmt.Errorf("expected auth_required, got %s", authRequired.Type))
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fail(fmt.Errorf("failed to send auth: %w", err))
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fail(fmt.Errorf("failed to read auth response: %w", err))
	}
	switch authResponse.Type {
	case "auth_ok":
		return conn, nil
	case "auth_invalid":
		return fail(fmt.Errorf("authentication failed: invalid token"))
	default:
		return fail(fmt.Errorf("expected auth_ok, got %s", authResponse.Type))
	}
}

// Disconnect closes the WebSocket connection and stops reconnecting
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subscribers.clear()
	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a request with the given id and waits for its result
func (c *Client) sendMessage(ctx context.Context, msgID int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	conn, connCtx := c.conn, c.ctx
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-connCtx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages routes results and events from conn until it fails
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var eventData StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subscribers.notify(eventData.EntityID, eventData.OldState, eventData.NewState)
}

// handleDisconnect marks conn as lost and starts reconnecting if allowed
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.cancel()
	reconnect := c.reconnect
	c.connMu.Unlock()

	conn.Close()
	c.logger.Warn("Connection lost")

	if reconnect {
		go c.attemptReconnect()
	}
}

func (c *Client) shouldReconnect() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.reconnect && !c.connected
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := initialBackoff

	for {
		time.Sleep(backoff)
		if !c.shouldReconnect() {
			return
		}

		c.logger.Info("Attempting to reconnect...", zap.Duration("backoff", backoff))

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		err := c.Connect(ctx)
		cancel()
		if err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")

		c.hooksMu.Lock()
		hooks := append([]func(){}, c.reconnected...)
		c.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		return
	}
}

func (c *Client) subscribeToStateChanges(ctx context.Context) error {
	msgID := c.nextMsgID()
	_, err := c.sendMessage(ctx, msgID, &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: "state_changed",
	})
	return err
}

// GetState retrieves the state of an entity
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	states, err := c.GetAllStates(ctx)
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates(ctx context.Context) ([]*State, error) {
	msgID := c.nextMsgID()
	resp, err := c.sendMessage(ctx, msgID, &GetStatesRequest{
		ID:   msgID,
		Type: "get_states",
	})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService calls a Home Assistant service
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	_, err := c.sendMessage(ctx, msgID, &CallServiceRequest{
		ID:          msgID,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	if err != nil {
		return fmt.Errorf("%s.%s: %w", domain, service, err)
	}
	return nil
}

// SubscribeStateChanges subscribes to state changes for a specific entity
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	return c.subscribers.add(c, entityID, handler), nil
}

func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subscribers.remove(entityID, subID)
	return nil
}

// SetInputBoolean turns input_boolean.<objectID> on or off
func (c *Client) SetInputBoolean(ctx context.Context, objectID string, value bool) error {
	return c.CallService(ctx, "input_boolean", inputBooleanService(value), map[string]interface{}{
		"entity_id": "input_boolean." + objectID,
	})
}

// SetInputText sets input_text.<objectID>, truncated to the helper's limit
func (c *Client) SetInputText(ctx context.Context, objectID string, value string) error {
	return c.CallService(ctx, "input_text", "set_value", map[string]interface{}{
		"entity_id": "input_text." + objectID,
		"value":     truncateText(value),
	})
}

func inputBooleanService(value bool) string {
	if value {
		return "turn_on"
	}
	return "turn_off"
}

func truncateText(value string) string {
	runes := []rune(value)
	if len(runes) <= InputTextMaxLength {
		return value
	}
	return string(runes[:InputTextMaxLength])
}
