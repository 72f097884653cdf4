package redis_test

import (
	"context"
	"testing"

	"github.com/aretw0/pitcrew/pkg/adapters/redis"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditEntries(n int) []domain.AuditEntry {
	entries := make([]domain.AuditEntry, n)
	for i := range entries {
		msg := domain.NewMessage("tester", "", domain.TypeVehicleData, domain.PriorityNormal, nil)
		entries[i] = domain.NewAuditEntry(domain.ChannelVehicleDataInput, domain.AuditPublished, msg)
	}
	return entries
}

func TestAuditSink_RecordAndRecent(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	sink := redis.NewAuditSink(client)
	batch := auditEntries(3)
	require.NoError(t, sink.Record(ctx, batch))

	recent, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i := range batch {
		assert.Equal(t, batch[i].MessageID, recent[i].MessageID)
		assert.Equal(t, domain.AuditPublished, recent[i].Action)
		assert.Equal(t, domain.ChannelVehicleDataInput, recent[i].Channel)
	}
}

func TestAuditSink_TrimsToLimit(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	sink := redis.NewAuditSink(client, redis.WithAuditKey("test:audit"), redis.WithAuditLimit(5))
	first := auditEntries(4)
	second := auditEntries(4)
	require.NoError(t, sink.Record(ctx, first))
	require.NoError(t, sink.Record(ctx, second))

	list, err := mr.List("test:audit")
	require.NoError(t, err)
	assert.Len(t, list, 5)

	recent, err := sink.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, first[3].MessageID, recent[0].MessageID, "oldest survivor is the last of the first batch")
	assert.Equal(t, second[3].MessageID, recent[4].MessageID)
}

func TestAuditSink_EmptyBatch(t *testing.T) {
	mr, client := newClient(t)

	sink := redis.NewAuditSink(client)
	require.NoError(t, sink.Record(context.Background(), nil))
	assert.False(t, mr.Exists("pitcrew:audit"))
}
