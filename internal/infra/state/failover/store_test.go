package failover_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-codespace/internal/infra/state/failover"
	memorystate "collab-codespace/internal/infra/state/memory"
	"collab-codespace/internal/repository"
	"collab-codespace/internal/repository/mocks"
)

var errDown = errors.New("dial tcp: connection refused")

func TestFailoverStore_RoutesToPrimaryWhenHealthy(t *testing.T) {
	primary := new(mocks.Store)
	fallback := memorystate.NewMemoryStore()
	store := failover.NewStore(primary, fallback, failover.Options{MaxFailures: 2})
	ctx := context.Background()

	primary.On("Ping", mock.Anything).Return(nil)
	primary.On("Save", ctx, "room:R1", "v", time.Hour).Return(nil).Once()
	primary.On("Get", ctx, "room:R1").Return("v", nil).Once()

	store.Check(ctx)
	require.True(t, store.Healthy())
	require.NoError(t, store.Save(ctx, "room:R1", "v", time.Hour))
	val, err := store.Get(ctx, "room:R1")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	assert.Equal(t, 0, fallback.Len(), "fallback untouched while primary is healthy")

	primary.AssertExpectations(t)
}

func TestFailoverStore_SwitchesAfterConsecutiveFailures(t *testing.T) {
	primary := new(mocks.Store)
	fallback := memorystate.NewMemoryStore()
	store := failover.NewStore(primary, fallback, failover.Options{MaxFailures: 2})
	ctx := context.Background()

	primary.On("Ping", mock.Anything).Return(errDown)

	store.Check(ctx)
	assert.True(t, store.Healthy(), "single failure is tolerated")
	store.Check(ctx)
	require.False(t, store.Healthy())
	assert.Equal(t, "fallback", store.Backend())

	require.NoError(t, store.Save(ctx, "room:R1", "v", time.Hour))
	require.NoError(t, store.AddToSet(ctx, "user:u:rooms", "R1"))
	val, err := store.Get(ctx, "room:R1")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	members, err := store.MembersOfSet(ctx, "user:u:rooms")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, members)

	primary.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = store.PruneUserIndexes(ctx)
	assert.ErrorIs(t, err, repository.ErrUnavailable)
}

func TestFailoverStore_RecoversOnSuccessfulPing(t *testing.T) {
	primary := new(mocks.Store)
	store := failover.NewStore(primary, memorystate.NewMemoryStore(), failover.Options{MaxFailures: 1})
	ctx := context.Background()

	primary.On("Ping", mock.Anything).Return(errDown).Once()
	store.Check(ctx)
	require.False(t, store.Healthy())

	primary.On("Ping", mock.Anything).Return(nil).Once()
	store.Check(ctx)
	assert.True(t, store.Healthy())
	assert.Equal(t, "primary", store.Backend())
}

func TestFailoverStore_StartSwitchesImmediatelyWhenPrimaryDown(t *testing.T) {
	primary := new(mocks.Store)
	primary.On("Ping", mock.Anything).Return(errDown)
	store := failover.NewStore(primary, memorystate.NewMemoryStore(), failover.Options{
		Interval:    time.Hour,
		MaxFailures: 3,
	})

	go store.Start(context.Background())
	defer store.Stop()

	assert.Eventually(t, func() bool { return !store.Healthy() }, time.Second, 5*time.Millisecond)
}
