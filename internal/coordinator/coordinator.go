package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tapop105/internal/clock"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

// DefaultInterval is how often a device is polled while anything listens.
const DefaultInterval = 2 * time.Minute

// StatusFetcher produces one device status snapshot.
type StatusFetcher interface {
	Info(ctx context.Context) (tapocli.DeviceStatus, error)
}

// Observer receives the outcome of every poll.
type Observer interface {
	ObservePoll(result string, duration time.Duration)
	SetAvailable(available bool)
	SetDeviceOn(on bool)
	SetLastSuccess(t time.Time)
}

// Update is delivered to listeners after every poll. Status is nil when Err is set.
type Update struct {
	Status tapocli.DeviceStatus
	Err    error
	Time   time.Time
}

// Listener is called with each Update, synchronously and in subscription order.
type Listener func(update Update)

// Subscription represents an active listener registration
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id          int
	coordinator *Coordinator
	once        sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.coordinator.unsubscribe(s.id) })
}

type listenerEntry struct {
	id       int
	listener Listener
}

// Coordinator polls one device on a fixed interval and fans the result out
// to listeners. The timer only runs while the coordinator is started and at
// least one listener is registered.
type Coordinator struct {
	name     string
	fetcher  StatusFetcher
	logger   *zap.Logger
	clock    clock.Clock
	interval time.Duration
	observer Observer

	// refreshMu serialises polls; the fetcher itself is not coordinated.
	refreshMu sync.Mutex

	dataMu      sync.RWMutex
	data        tapocli.DeviceStatus
	lastErr     error
	lastUpdate  time.Time
	lastSuccess time.Time
	available   bool

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      int

	timerMu sync.Mutex
	timer   clock.Timer
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a coordinator. A zero interval means DefaultInterval and a nil
// clock means the real one.
func New(name string, fetcher StatusFetcher, logger *zap.Logger, clk clock.Clock, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Coordinator{
		name:     name,
		fetcher:  fetcher,
		logger:   logger.Named("coordinator").With(zap.String("device", name)),
		clock:    clk,
		interval: interval,
	}
}

// SetObserver attaches metrics. Call before Start.
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// Name returns the device name the coordinator was created with.
func (c *Coordinator) Name() string {
	return c.name
}

// Interval returns the polling interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// FirstRefresh performs the initial poll. Setup should abort on error.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("first refresh of %s failed: %w", c.name, err)
	}
	return nil
}

// Refresh polls the device once, stores the outcome and notifies listeners.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := c.clock.Now()
	status, err := c.fetcher.Info(ctx)
	now := c.clock.Now()

	c.dataMu.Lock()
	wasAvailable := c.available
	hadUpdate := !c.lastUpdate.IsZero()
	c.lastUpdate = now
	if err != nil {
		c.lastErr = err
		c.available = false
	} else {
		c.data = status
		c.lastErr = nil
		c.available = true
		c.lastSuccess = now
	}
	c.dataMu.Unlock()

	switch {
	case err != nil && (wasAvailable || !hadUpdate):
		c.logger.Error("Error fetching device status",
			zap.String("kind", tapocli.KindOf(err).String()),
			zap.Error(err))
	case err != nil:
		c.logger.Debug("Device still unavailable", zap.Error(err))
	case !wasAvailable && hadUpdate:
		c.logger.Info("Fetching device status recovered")
	default:
		c.logger.Debug("Fetched device status", zap.Bool("device_on", status.IsOn()))
	}

	if c.observer != nil {
		c.observer.ObservePoll(tapocli.KindOf(err).String(), now.Sub(start))
		c.observer.SetAvailable(err == nil)
		if err == nil {
			c.observer.SetDeviceOn(status.IsOn())
			c.observer.SetLastSuccess(now)
		}
	}

	c.notify(Update{Status: status, Err: err, Time: now})
	return err
}

// Data returns the last successful snapshot.
func (c *Coordinator) Data() (tapocli.DeviceStatus, bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.data, c.data != nil
}

// Available reports whether the most recent poll succeeded.
func (c *Coordinator) Available() bool {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.available
}

// LastError returns the error of the most recent poll, or nil.
func (c *Coordinator) LastError() error {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.lastErr
}

// LastUpdate returns when the most recent poll finished.
func (c *Coordinator) LastUpdate() time.Time {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.lastUpdate
}

// LastSuccess returns when the most recent successful poll finished.
func (c *Coordinator) LastSuccess() time.Time {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.lastSuccess
}

// Subscribe registers a listener and starts the poll timer if needed.
func (c *Coordinator) Subscribe(listener Listener) Subscription {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: listener})
	c.listenersMu.Unlock()

	c.schedule()
	return &subscription{id: id, coordinator: c}
}

func (c *Coordinator) unsubscribe(id int) {
	c.listenersMu.Lock()
	for i, entry := range c.listeners {
		if entry.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
	empty := len(c.listeners) == 0
	c.listenersMu.Unlock()

	if empty {
		c.stopTimer()
	}
}

func (c *Coordinator) listenerCount() int {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return len(c.listeners)
}

func (c *Coordinator) notify(update Update) {
	c.listenersMu.Lock()
	entries := append([]listenerEntry(nil), c.listeners...)
	c.listenersMu.Unlock()

	for _, entry := range entries {
		entry.listener(update)
	}
}

// Start enables timed polling.
func (c *Coordinator) Start() {
	c.timerMu.Lock()
	if c.running {
		c.timerMu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.timerMu.Unlock()

	c.logger.Info("Starting device polling", zap.Duration("interval", c.interval))
	c.schedule()
}

// Stop disables timed polling and cancels an in-flight timed poll.
func (c *Coordinator) Stop() {
	c.timerMu.Lock()
	if !c.running {
		c.timerMu.Unlock()
		return
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()
	c.timerMu.Unlock()

	c.logger.Info("Stopped device polling")
}

// schedule arms the timer when running with listeners and no timer pending.
func (c *Coordinator) schedule() {
	if c.listenerCount() == 0 {
		return
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if !c.running || c.timer != nil {
		return
	}
	c.timer = c.clock.AfterFunc(c.interval, c.tick)
}

func (c *Coordinator) stopTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) tick() {
	c.timerMu.Lock()
	c.timer = nil
	running := c.running
	ctx := c.ctx
	c.timerMu.Unlock()

	if !running {
		return
	}

	// Errors are already logged and delivered to listeners.
	_ = c.Refresh(ctx)
	c.schedule()
}
