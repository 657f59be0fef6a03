package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
)

func TestRegisterProbesHealth(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	backend, err := env.backends.Register(ctx, "owner-1", "cred-abc")
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusHealthy, backend.HealthStatus)
	assert.True(t, backend.IsActive)

	stored, err := env.backendRepo.GetByID(ctx, backend.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusHealthy, stored.HealthStatus)
	assert.False(t, stored.LastHealthCheck.IsZero())
}

func TestRegisterRequiresCredential(t *testing.T) {
	env := newTestEnv()

	_, err := env.backends.Register(context.Background(), "owner-1", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestCheckHealthClassification(t *testing.T) {
	tests := []struct {
		name     string
		probeErr error
		want     string
	}{
		{"probe ok", nil, models.HealthStatusHealthy},
		{"throttled", &relay.Error{Op: "getMe", Err: relay.ErrRateLimited}, models.HealthStatusRateLimited},
		{"credential rejected", &relay.Error{Op: "getMe", Err: relay.ErrInvalidCredential}, models.HealthStatusBanned},
		{"transport down", &relay.Error{Op: "getMe", Err: relay.ErrUnavailable}, models.HealthStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			b := env.addBackend("b1", "owner-1")
			env.blobs.identityErr[b.Credential] = tt.probeErr

			status, err := env.backends.CheckHealth(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestSelectBackendRoundRobin(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addBackend("b1", "owner-1")
	env.addBackend("b2", "owner-1")
	env.addBackend("b3", "owner-1")

	// 池不变时同一序号的选取是确定的
	for i := 0; i < 9; i++ {
		backend, err := env.backends.SelectBackend(ctx, i, "owner-1")
		require.NoError(t, err)

		again, err := env.backends.SelectBackend(ctx, i, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, backend.ID, again.ID, "index %d", i)
	}

	// 连续序号在三个后端上轮转
	first, _ := env.backends.SelectBackend(ctx, 0, "owner-1")
	fourth, _ := env.backends.SelectBackend(ctx, 3, "owner-1")
	assert.Equal(t, first.ID, fourth.ID)

	second, _ := env.backends.SelectBackend(ctx, 1, "owner-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSelectBackendEmptyPool(t *testing.T) {
	env := newTestEnv()

	_, err := env.backends.SelectBackend(context.Background(), 0, "owner-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoBackendAvailable))
}

func TestPlaceablePoolExcludesUnhealthyAndUnbound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.addBackend("b1", "owner-1")

	sick := env.addBackend("b2", "owner-1")
	require.NoError(t, env.backendRepo.UpdateHealth(ctx, sick.ID, models.HealthStatusRateLimited, sick.LastHealthCheck))

	unbound := env.addBackend("b3", "owner-1")
	require.NoError(t, env.backendRepo.BindChannel(ctx, unbound.ID, ""))

	pool, err := env.backends.PlaceablePool(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "b1", pool[0].ID)
}

func TestDeactivateChecksOwner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	b := env.addBackend("b1", "owner-1")

	err := env.backends.Deactivate(ctx, "intruder", b.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	require.NoError(t, env.backends.Deactivate(ctx, "owner-1", b.ID))

	stored, err := env.backendRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestDeactivateUnknownBackend(t *testing.T) {
	env := newTestEnv()

	err := env.backends.Deactivate(context.Background(), "owner-1", "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrBackendNotFound))
}
