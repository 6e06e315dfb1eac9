package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/akhbar/internal/cache"
	"github.com/kiranshivaraju/akhbar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

// backends returns every Cache implementation under test. Redis is skipped in -short mode.
func backends(t *testing.T) map[string]cache.Cache {
	t.Helper()
	out := map[string]cache.Cache{"memory": cache.NewMemoryCache()}
	if !testing.Short() {
		out["redis"] = setupRedis(t)
	}
	return out
}

func TestPing(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, c.Ping(context.Background()))
		})
	}
}

func TestSetGet_Roundtrip(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "test:key", []byte("hello"), 10*time.Second))

			val, found, err := c.Get(ctx, "test:key")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("hello"), val)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			val, found, err := c.Get(context.Background(), "nonexistent:key")
			require.NoError(t, err)
			assert.False(t, found)
			assert.Nil(t, val)
		})
	}
}

func TestSet_TTLExpiry(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second))

			_, found, err := c.Get(ctx, "expiry:key")
			require.NoError(t, err)
			assert.True(t, found)

			time.Sleep(1500 * time.Millisecond)

			_, found, err = c.Get(ctx, "expiry:key")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "del:key", []byte("bye"), 10*time.Second))
			require.NoError(t, c.Delete(ctx, "del:key"))

			_, found, err := c.Get(ctx, "del:key")
			require.NoError(t, err)
			assert.False(t, found)

			assert.NoError(t, c.Delete(ctx, "does:not:exist"))
		})
	}
}

func TestIncrWithExpiry(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "ratelimit:test:" + uuid.NewString()[:8]

			for want := int64(1); want <= 3; want++ {
				val, err := c.IncrWithExpiry(ctx, key, 10*time.Second)
				require.NoError(t, err)
				assert.Equal(t, want, val)
			}
		})
	}
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "ratelimit:expiry:" + uuid.NewString()[:8]

			_, err := c.IncrWithExpiry(ctx, key, 1*time.Second)
			require.NoError(t, err)

			time.Sleep(1500 * time.Millisecond)

			// A fresh window starts from 1 again.
			val, err := c.IncrWithExpiry(ctx, key, 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, int64(1), val)
		})
	}
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	src := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", src, 0))
	src[0] = 'x'

	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("abc"), val)

	val[1] = 'y'
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

// --- ProgressCache ---

func TestProgressCache_PutLatest(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pc := cache.NewProgressCache(c, time.Minute, time.Second)
			snap := &models.ProgressSnapshot{
				Step:        models.StepCropRegions,
				StepName:    "crop",
				Description: "Cropping",
				Images:      map[models.Step]models.ImageRef{models.StepBoundingBoxes: models.NormalizeImage("QUJD")},
			}

			require.NoError(t, pc.Put(ctx, "job-1", snap))

			got, storedAt, found, err := pc.Latest(ctx, "job-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, snap, got)
			assert.WithinDuration(t, time.Now(), storedAt, 5*time.Second)
		})
	}
}

func TestProgressCache_Missing(t *testing.T) {
	pc := cache.NewProgressCache(cache.NewMemoryCache(), time.Minute, time.Second)
	got, _, found, err := pc.Latest(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestProgressCache_NilSnapshotIgnored(t *testing.T) {
	pc := cache.NewProgressCache(cache.NewMemoryCache(), time.Minute, time.Second)
	require.NoError(t, pc.Put(context.Background(), "job-1", nil))
	_, _, found, err := pc.Latest(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProgressCache_CompletedUsesShortTTL(t *testing.T) {
	ctx := context.Background()
	pc := cache.NewProgressCache(cache.NewMemoryCache(), time.Hour, 100*time.Millisecond)

	require.NoError(t, pc.Put(ctx, "running", &models.ProgressSnapshot{Step: models.StepBoundingBoxes}))
	require.NoError(t, pc.Put(ctx, "done", &models.ProgressSnapshot{Step: models.StepTextExtract, Completed: true}))

	time.Sleep(250 * time.Millisecond)

	_, _, found, err := pc.Latest(ctx, "done")
	require.NoError(t, err)
	assert.False(t, found, "completed snapshot should expire with the short TTL")

	_, _, found, err = pc.Latest(ctx, "running")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProgressCache_Forget(t *testing.T) {
	ctx := context.Background()
	pc := cache.NewProgressCache(cache.NewMemoryCache(), time.Hour, time.Minute)
	require.NoError(t, pc.Put(ctx, "job-1", &models.ProgressSnapshot{Step: models.StepBoundingBoxes}))
	require.NoError(t, pc.Forget(ctx, "job-1"))

	_, _, found, err := pc.Latest(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProgressCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(ctx, cache.ProgressKey("job-1"), []byte("{not json"), time.Minute))

	pc := cache.NewProgressCache(c, time.Minute, time.Minute)
	_, _, found, err := pc.Latest(ctx, "job-1")
	assert.Error(t, err)
	assert.False(t, found)
}

// --- Cache Key Builders ---

func TestProgressKey(t *testing.T) {
	assert.Equal(t, "ocr:progress:job-42", cache.ProgressKey("job-42"))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:submit:10.0.0.1", cache.RateLimitKey("submit", "10.0.0.1"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.ProgressKey("a"):            true,
		cache.ProgressKey("b"):            true,
		cache.RateLimitKey("submit", "a"): true,
		cache.RateLimitKey("submit", "b"): true,
	}
	assert.Len(t, keys, 4, "all keys should be unique")
}
