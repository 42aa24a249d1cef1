package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tapop105/internal/clock"
	"tapop105/internal/tapocli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher returns queued results, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	status tapocli.DeviceStatus
	err    error
}

func (f *fakeFetcher) Info(ctx context.Context) (tapocli.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i].status, f.results[i].err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeObserver struct {
	polls       []string
	available   bool
	deviceOn    bool
	lastSuccess time.Time
}

func (o *fakeObserver) ObservePoll(result string, _ time.Duration) { o.polls = append(o.polls, result) }
func (o *fakeObserver) SetAvailable(a bool)                       { o.available = a }
func (o *fakeObserver) SetDeviceOn(on bool)                       { o.deviceOn = on }
func (o *fakeObserver) SetLastSuccess(t time.Time)                { o.lastSuccess = t }

var (
	onStatus  = tapocli.DeviceStatus{"device_id": "abc", "nickname": "Lamp", "device_on": true}
	offStatus = tapocli.DeviceStatus{"device_id": "abc", "nickname": "Lamp", "device_on": false}
	authErr   = &tapocli.Error{Kind: tapocli.KindAuthenticationFailed, Command: tapocli.CommandInfo}
)

func newTestCoordinator(fetcher StatusFetcher) (*Coordinator, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New("lamp", fetcher, zap.NewNop(), clk, 0), clk
}

func TestCoordinator_FirstRefresh(t *testing.T) {
	t.Run("success stores data", func(t *testing.T) {
		c, clk := newTestCoordinator(&fakeFetcher{results: []fetchResult{{status: onStatus}}})

		require.NoError(t, c.FirstRefresh(context.Background()))

		data, ok := c.Data()
		require.True(t, ok)
		assert.Equal(t, onStatus, data)
		assert.True(t, c.Available())
		assert.NoError(t, c.LastError())
		assert.Equal(t, clk.Now(), c.LastUpdate())
		assert.Equal(t, clk.Now(), c.LastSuccess())
	})

	t.Run("failure keeps the classified error", func(t *testing.T) {
		c, _ := newTestCoordinator(&fakeFetcher{results: []fetchResult{{err: authErr}}})

		err := c.FirstRefresh(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, tapocli.ErrAuthenticationFailed)
		assert.False(t, c.Available())

		_, ok := c.Data()
		assert.False(t, ok)
	})
}

func TestCoordinator_UnavailableUntilNextSuccess(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{
		{status: onStatus},
		{err: authErr},
		{status: offStatus},
	}}
	c, _ := newTestCoordinator(fetcher)
	obs := &fakeObserver{}
	c.SetObserver(obs)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	assert.True(t, c.Available())
	assert.True(t, obs.deviceOn)

	require.Error(t, c.Refresh(ctx))
	assert.False(t, c.Available())
	assert.False(t, obs.available)
	data, ok := c.Data()
	require.True(t, ok, "last good snapshot is kept")
	assert.Equal(t, onStatus, data)

	require.NoError(t, c.Refresh(ctx))
	assert.True(t, c.Available())
	assert.False(t, obs.deviceOn)
	assert.Equal(t, []string{"none", "authentication_failed", "none"}, obs.polls)
}

func TestCoordinator_ListenersReceiveEveryUpdate(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{status: onStatus}, {err: authErr}}}
	c, _ := newTestCoordinator(fetcher)

	var updates []Update
	sub := c.Subscribe(func(u Update) { updates = append(updates, u) })

	_ = c.Refresh(context.Background())
	_ = c.Refresh(context.Background())

	require.Len(t, updates, 2)
	assert.Equal(t, onStatus, updates[0].Status)
	assert.NoError(t, updates[0].Err)
	assert.Nil(t, updates[1].Status)
	assert.ErrorIs(t, updates[1].Err, tapocli.ErrAuthenticationFailed)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_ = c.Refresh(context.Background())
	assert.Len(t, updates, 2)
}

func TestCoordinator_PollsOnlyWithListeners(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{status: onStatus}}}
	c, clk := newTestCoordinator(fetcher)

	c.Start()
	defer c.Stop()

	clk.Advance(DefaultInterval)
	assert.Equal(t, 0, fetcher.callCount(), "no listeners, no polling")

	sub := c.Subscribe(func(Update) {})
	clk.Advance(DefaultInterval - time.Second)
	assert.Equal(t, 0, fetcher.callCount())

	clk.Advance(time.Second)
	assert.Equal(t, 1, fetcher.callCount())

	clk.Advance(DefaultInterval)
	assert.Equal(t, 2, fetcher.callCount())

	sub.Unsubscribe()
	clk.Advance(3 * DefaultInterval)
	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, 0, clk.Pending())
}

func TestCoordinator_StopCancelsTimer(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{status: onStatus}}}
	c, clk := newTestCoordinator(fetcher)

	c.Subscribe(func(Update) {})
	c.Start()
	c.Stop()
	c.Stop()

	clk.Advance(10 * DefaultInterval)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestCoordinator_PollingContinuesAfterErrors(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{err: errors.New("boom")}}}
	c, clk := newTestCoordinator(fetcher)

	c.Subscribe(func(Update) {})
	c.Start()
	defer c.Stop()

	clk.Advance(DefaultInterval)
	clk.Advance(DefaultInterval)
	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, tapocli.KindUnknown, tapocli.KindOf(c.LastError()))
}

func TestCoordinator_CustomInterval(t *testing.T) {
	c := New("x", &fakeFetcher{}, zap.NewNop(), nil, 30*time.Second)
	assert.Equal(t, 30*time.Second, c.Interval())
	assert.Equal(t, "x", c.Name())
}
