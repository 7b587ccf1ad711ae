package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/pixmix-relay/internal/model"
)

func newSQLiteRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSQLiteRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))

	return repo
}

func TestRepository_UpsertAndLookup(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	token, found, err := repo.Lookup(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, token)

	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-a"}))

	token, found, err = repo.Lookup(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok-a", token)

	reg, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformIOS, reg.Platform)
}

func TestRepository_LastWriteWins(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-a", Platform: model.PlatformIOS}))
	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-b", Platform: model.PlatformAndroid}))

	reg, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-b", reg.DeviceToken)
	assert.Equal(t, model.PlatformAndroid, reg.Platform)
}

func TestRepository_MergeKeepsPlatformAndRefreshesTimestamp(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	repo.now = func() time.Time { return first }
	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-a", Platform: model.PlatformWeb}))

	repo.now = func() time.Time { return second }
	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-b"}))

	reg, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-b", reg.DeviceToken)
	assert.Equal(t, model.PlatformWeb, reg.Platform)
	assert.True(t, reg.LastUpdated.Equal(second), "last_updated = %s", reg.LastUpdated)
}

func TestRepository_RemoveIsIdempotent(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1", DeviceToken: "tok-a"}))
	require.NoError(t, repo.Remove(ctx, "user-1"))
	require.NoError(t, repo.Remove(ctx, "user-1"))

	_, found, err := repo.Lookup(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = repo.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRepository_RejectsIncompleteRegistration(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	assert.Error(t, repo.Upsert(ctx, model.DeviceRegistration{DeviceToken: "tok"}))
	assert.Error(t, repo.Upsert(ctx, model.DeviceRegistration{UserID: "user-1"}))
}
