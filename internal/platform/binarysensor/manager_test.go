package binarysensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"tapop105/internal/clock"
	"tapop105/internal/config"
	"tapop105/internal/coordinator"
	"tapop105/internal/ha"
	"tapop105/internal/platform"
	"tapop105/internal/tapocli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fetcher struct {
	status tapocli.DeviceStatus
	err    error
}

func (f *fetcher) Info(context.Context) (tapocli.DeviceStatus, error) {
	return f.status, f.err
}

func status(on bool) tapocli.DeviceStatus {
	return tapocli.DeviceStatus{"device_id": "8022ABC", "nickname": "desk lamp", "device_on": on}
}

func setup(t *testing.T, readOnly bool) (*Manager, *fetcher, *coordinator.Coordinator, *ha.MockClient) {
	t.Helper()
	f := &fetcher{status: status(true)}
	c := coordinator.New("desk", f, zap.NewNop(), clock.NewMockClock(time.Unix(0, 0)), 0)
	require.NoError(t, c.FirstRefresh(context.Background()))

	mock := ha.NewMockClient()
	m, err := NewManager(c, mock, "desk_lamp", zap.NewNop(), readOnly)
	require.NoError(t, err)
	return m, f, c, mock
}

func TestManager_MirrorsState(t *testing.T) {
	m, f, c, mock := setup(t, false)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	defer m.Stop()
	assert.Equal(t, "on", mock.StateOf("input_boolean.desk_lamp"))

	f.status = status(false)
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, "off", mock.StateOf("input_boolean.desk_lamp"))

	// Unchanged state is not written again.
	mock.ClearServiceCalls()
	require.NoError(t, c.Refresh(ctx))
	assert.Empty(t, mock.GetServiceCalls())

	// Failed polls leave the mirror alone.
	f.err = &tapocli.Error{Kind: tapocli.KindCannotConnect}
	assert.Error(t, c.Refresh(ctx))
	assert.Empty(t, mock.GetServiceCalls())
	assert.Equal(t, "unavailable", m.Sensor().State())
}

func TestManager_ResyncForcesWrite(t *testing.T) {
	m, _, _, mock := setup(t, false)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	mock.ClearServiceCalls()
	require.NoError(t, m.Sync(ctx, true))
	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
}

func TestManager_ReadOnly(t *testing.T) {
	m, _, _, mock := setup(t, true)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Empty(t, mock.GetServiceCalls())
}

func TestManager_StopUnsubscribes(t *testing.T) {
	m, f, c, mock := setup(t, false)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	m.Stop()

	mock.ClearServiceCalls()
	f.status = status(false)
	require.NoError(t, c.Refresh(ctx))
	assert.Empty(t, mock.GetServiceCalls())
}

func TestManager_WriteError(t *testing.T) {
	m, _, _, mock := setup(t, false)
	mock.CallErr = errors.New("HA error")

	// Start logs but does not fail on a mirror error.
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.ErrorContains(t, m.Sync(context.Background(), true), "HA error")
}

func TestCreatePlatform(t *testing.T) {
	f := &fetcher{status: status(true)}
	c := coordinator.New("desk", f, zap.NewNop(), nil, 0)
	require.NoError(t, c.FirstRefresh(context.Background()))

	pctx := &platform.Context{
		Entry:       config.Entry{UniqueID: "8022ABC", Title: "Desk Lamp"},
		Coordinator: c,
		Logger:      zap.NewNop(),
	}

	_, err := createPlatform(pctx)
	assert.ErrorIs(t, err, platform.ErrNotApplicable)

	pctx.HAClient = ha.NewMockClient()
	p, err := createPlatform(pctx)
	require.NoError(t, err)
	assert.Equal(t, "binary_sensor", p.Name())
	_, ok := p.(platform.Resyncable)
	assert.True(t, ok)

	assert.NotNil(t, platform.Get(Name))
}
