package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/pitcrew/pkg/adapters/redis"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisArchive_Contract(t *testing.T) {
	_, client := newClient(t)

	archive := redis.NewArchive(client)
	ports.RunWorkflowArchiveContract(t, archive)
}

func TestRedisArchive_TTL(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	archive := redis.NewArchive(client, redis.WithTTL(1*time.Hour))

	wf := domain.NewWorkflow("VIN-TTL", domain.PriorityNormal, 3, nil)
	require.NoError(t, archive.Save(ctx, wf))

	// Verify Key Exists
	assert.True(t, mr.Exists("pitcrew:workflow:"+wf.ID))

	// Verify TTL is set (approx 1h)
	assert.Equal(t, 1*time.Hour, mr.TTL("pitcrew:workflow:"+wf.ID))

	// Fast Forward
	mr.FastForward(2 * time.Hour)

	_, err := archive.Load(ctx, wf.ID)
	assert.ErrorIs(t, err, domain.ErrArchiveNotFound)
}

func TestRedisArchive_Prefix(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	archive := redis.NewArchive(client, redis.WithPrefix("fleet:"))
	wf := domain.NewWorkflow("VIN-PFX", domain.PriorityLow, 3, nil)
	require.NoError(t, archive.Save(ctx, wf))

	assert.True(t, mr.Exists("fleet:workflow:"+wf.ID))
	ids, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{wf.ID}, ids)
}
