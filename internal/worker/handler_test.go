package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	redisstate "collab-codespace/internal/infra/state/redis"
	"collab-codespace/internal/repository"
	"collab-codespace/internal/tasks"
)

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) PruneUserIndexes(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newPruneTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := tasks.NewIndexPruneTask(time.Now())
	require.NoError(t, err)
	return task
}

func TestIndexPruneHandler_Success(t *testing.T) {
	pruner := new(mockPruner)
	pruner.On("PruneUserIndexes", mock.Anything).Return(3, nil)

	err := NewIndexPruneHandler(pruner).ProcessTask(context.Background(), newPruneTask(t))

	assert.NoError(t, err)
	pruner.AssertExpectations(t)
}

func TestIndexPruneHandler_PrimaryUnavailableIsSkipped(t *testing.T) {
	pruner := new(mockPruner)
	pruner.On("PruneUserIndexes", mock.Anything).Return(0, repository.ErrUnavailable)

	assert.NoError(t, NewIndexPruneHandler(pruner).ProcessTask(context.Background(), newPruneTask(t)))
}

func TestIndexPruneHandler_StoreErrorIsRetried(t *testing.T) {
	pruner := new(mockPruner)
	boom := errors.New("boom")
	pruner.On("PruneUserIndexes", mock.Anything).Return(0, boom)

	err := NewIndexPruneHandler(pruner).ProcessTask(context.Background(), newPruneTask(t))

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestIndexPruneHandler_BadPayloadSkipsRetry(t *testing.T) {
	pruner := new(mockPruner)
	task := asynq.NewTask(tasks.TypeIndexPrune, []byte("{"))

	err := NewIndexPruneHandler(pruner).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	pruner.AssertNotCalled(t, "PruneUserIndexes", mock.Anything)
}

func TestWorkerServer_MuxRoutesPruneTask(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := redisstate.NewRedisStore(client, "cs:")
	require.NoError(t, store.Save(ctx, repository.RoomKey("live"), `{"code":"","language":"go","adminId":"u1"}`, time.Hour))
	require.NoError(t, store.AddToSet(ctx, repository.UserRoomsKey("u1"), "live"))
	require.NoError(t, store.AddToSet(ctx, repository.UserRoomsKey("u1"), "expired"))

	ws := &WorkerServer{pruner: store}
	require.NoError(t, ws.Mux().ProcessTask(ctx, newPruneTask(t)))

	rooms, err := store.MembersOfSet(ctx, repository.UserRoomsKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, rooms)
}
