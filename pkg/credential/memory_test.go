package credential

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	memTestTenant     = "tenant-1"
	memTestGoroutines = 10
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	codec, err := NewCodec(nil)
	require.NoError(t, err)
	return NewMemoryStore(codec)
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestTenant, sampleBlob()))

	rec, err := store.Load(ctx, memTestTenant)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, memTestTenant, rec.TenantID)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, rec.Blob["noiseKey"].(map[string]any)["public"])
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	store := newTestMemoryStore(t)

	rec, err := store.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_UpsertKeepsCreatedAt(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	store.now = func() time.Time { return first }
	require.NoError(t, store.Save(ctx, memTestTenant, Blob{"v": "1"}))

	store.now = func() time.Time { return second }
	require.NoError(t, store.Save(ctx, memTestTenant, Blob{"v": "2"}))

	rec, err := store.Load(ctx, memTestTenant)
	require.NoError(t, err)
	assert.Equal(t, first, rec.CreatedAt)
	assert.Equal(t, second, rec.UpdatedAt)
	assert.Equal(t, "2", rec.Blob["v"])
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	key := []byte{1, 2, 3}
	require.NoError(t, store.Save(ctx, memTestTenant, Blob{"k": key}))
	key[0] = 9

	rec, err := store.Load(ctx, memTestTenant)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, rec.Blob["k"])
}

func TestMemoryStore_Delete(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, memTestTenant, Blob{"k": "v"}))
	require.NoError(t, store.Delete(ctx, memTestTenant))
	require.NoError(t, store.Delete(ctx, memTestTenant), "delete is idempotent")

	rec, err := store.Load(ctx, memTestTenant)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_CorruptRecordIsAbsent(t *testing.T) {
	store := newTestMemoryStore(t)
	now := time.Now()
	store.records[memTestTenant] = memoryRecord{payload: "{not json", createdAt: now, updatedAt: now}

	rec, err := store.Load(context.Background(), memTestTenant)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_PingAndClose(t *testing.T) {
	store := newTestMemoryStore(t)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range memTestGoroutines {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("tenant-%d", n)
			assert.NoError(t, store.Save(ctx, id, Blob{"n": []byte{byte(n)}}))
			rec, err := store.Load(ctx, id)
			assert.NoError(t, err)
			if assert.NotNil(t, rec) {
				assert.Equal(t, []byte{byte(n)}, rec.Blob["n"])
			}
		}(i)
	}
	wg.Wait()
}
