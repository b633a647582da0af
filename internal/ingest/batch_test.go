package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/redis"
)

const batchFile = `{"deviceId":"dev-1","status":"occupied","timestamp":"2026-03-01T10:00:00Z"}
{"deviceId":"dev-1","timestamp":"not-a-time"}

{"deviceId":"dev-7","status":"occupied","timestamp":"2026-03-01T10:05:00Z"}
{"deviceId":"dev-1","status":"vacant","timestamp":"2026-03-01T10:30:00Z","battery":55}
`

func TestProcessBatch(t *testing.T) {
	s := fixture(t)
	sink := &fakeSink{}
	p := newTestPipeline(s, WithOccupancySink(sink))
	ctx := context.Background()

	summary, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(batchFile), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 2, summary.Accepted)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Unbound)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(5), summary.Cursor)
	assert.Len(t, sink.records, 2)

	records, err := s.ListOccupancyRecords(ctx, tenantID, "b1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 30, *records[0].DurationMinutes)
	assert.Equal(t, 5.0, *records[0].Revenue)
}

func TestProcessBatchReplayIsIdempotent(t *testing.T) {
	s := fixture(t)
	p := newTestPipeline(s)
	ctx := context.Background()

	_, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(batchFile), nil)
	require.NoError(t, err)
	events := s.EventCount()

	summary, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(batchFile), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Duplicate)
	assert.Equal(t, 1, summary.Invalid, "invalid rows are rejected again")
	assert.Zero(t, summary.Accepted)
	assert.Equal(t, events, s.EventCount())

	deadLetters, err := s.CountDeadLetters(ctx, tenantID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, deadLetters, "a replayed invalid row is dead-lettered once")

	records, err := s.ListOccupancyRecords(ctx, tenantID, "b1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	zone, err := s.GetZone(ctx, tenantID, "z1")
	require.NoError(t, err)
	assert.Equal(t, 0, zone.OccupiedBays)
}

func TestProcessBatchResumesFromCursor(t *testing.T) {
	s := fixture(t)
	p := newTestPipeline(s)
	cursors := NewMemoryCursor()
	ctx := context.Background()

	require.NoError(t, cursors.Save(ctx, tenantID, "march.ndjson", 3))

	summary, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(batchFile), cursors)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Unbound)
	assert.Equal(t, 1, summary.Accepted, "vacant on a vacant bay is accepted without a record")

	pos, err := cursors.Load(ctx, tenantID, "march.ndjson")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)

	other, err := cursors.Load(ctx, "globex", "march.ndjson")
	require.NoError(t, err)
	assert.Zero(t, other, "cursors are per tenant")
}

// flakyStore fails the first n bay transitions
type flakyStore struct {
	*store.MemoryStore
	failures int
}

func (f *flakyStore) ApplyTransition(ctx context.Context, tr store.Transition) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return f.MemoryStore.ApplyTransition(ctx, tr)
}

func TestProcessBatchRetriesFailedTransition(t *testing.T) {
	s := &flakyStore{MemoryStore: fixture(t), failures: 1}
	sink := &fakeSink{}
	p := newTestPipeline(s, WithOccupancySink(sink))
	cursors := NewMemoryCursor()
	ctx := context.Background()

	const file = `{"deviceId":"dev-1","status":"occupied","timestamp":"2026-03-01T10:00:00Z"}
{"deviceId":"dev-1","timestamp":"2026-03-01T10:05:00Z"}
`

	summary, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(file), cursors)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Accepted)
	assert.Zero(t, summary.Cursor, "the cursor never passes a failed row")

	pos, err := cursors.Load(ctx, tenantID, "march.ndjson")
	require.NoError(t, err)
	assert.Zero(t, pos)

	summary, err = p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(file), cursors)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted, "the stored but unapplied row is applied")
	assert.Equal(t, 1, summary.Duplicate)
	assert.Equal(t, int64(2), summary.Cursor)

	bay, err := s.GetBay(ctx, tenantID, "b1")
	require.NoError(t, err)
	assert.Equal(t, types.BayOccupied, bay.Status)

	zone, err := s.GetZone(ctx, tenantID, "z1")
	require.NoError(t, err)
	assert.Equal(t, 1, zone.OccupiedBays)

	require.Len(t, sink.records, 1)
	assert.Equal(t, types.OccupancyArrive, sink.records[0].Kind)
	assert.Equal(t, 2, s.EventCount())

	// A third run changes nothing
	summary, err = p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(file), cursors)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Len(t, sink.records, 1)
}

func TestProcessBatchStopsOnCancel(t *testing.T) {
	s := fixture(t)
	p := newTestPipeline(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.ProcessBatch(ctx, tenantID, "march.ndjson", strings.NewReader(batchFile), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Rows)
}

type fakeRedis struct {
	redis.Client
	values map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.values[key] = value.(string)
	return nil
}

func TestRedisCursor(t *testing.T) {
	client := &fakeRedis{values: make(map[string]string)}
	cursors := NewRedisCursor(client)
	ctx := context.Background()

	pos, err := cursors.Load(ctx, tenantID, "march.ndjson")
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, cursors.Save(ctx, tenantID, "march.ndjson", 42))
	assert.Equal(t, "42", client.values["cursor:acme:march.ndjson"])

	pos, err = cursors.Load(ctx, tenantID, "march.ndjson")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)

	client.values["cursor:acme:bad"] = "x"
	_, err = cursors.Load(ctx, tenantID, "bad")
	assert.Error(t, err)
}
