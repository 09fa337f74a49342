package uploadcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/cache"
)

func TestLookupOrUploadCachesID(t *testing.T) {
	c := New(cache.NewInMemoryCache())
	var uploads atomic.Int64
	upload := func(ctx context.Context) (int64, error) {
		uploads.Add(1)
		return 42, nil
	}

	id, hit, err := c.LookupOrUpload(context.Background(), "fp1", upload)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if hit || id != 42 {
		t.Fatalf("first resolution should miss and upload: id=%d hit=%v", id, hit)
	}

	id, hit, err = c.LookupOrUpload(context.Background(), "fp1", upload)
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if !hit || id != 42 {
		t.Fatalf("second resolution should hit: id=%d hit=%v", id, hit)
	}
	if uploads.Load() != 1 {
		t.Fatalf("payload uploaded %d times, want 1", uploads.Load())
	}
}

func TestDistinctFingerprintsUploadSeparately(t *testing.T) {
	c := New(cache.NewInMemoryCache())
	next := atomic.Int64{}
	upload := func(ctx context.Context) (int64, error) {
		return next.Add(1), nil
	}

	idA, _, _ := c.LookupOrUpload(context.Background(), "fpA", upload)
	idB, _, _ := c.LookupOrUpload(context.Background(), "fpB", upload)
	if idA == idB {
		t.Fatalf("distinct fingerprints must resolve independently: %d == %d", idA, idB)
	}
}

func TestFailedUploadIsNotCached(t *testing.T) {
	c := New(cache.NewInMemoryCache())
	var calls atomic.Int64
	failOnce := func(ctx context.Context) (int64, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("fabric unavailable")
		}
		return 7, nil
	}

	if _, _, err := c.LookupOrUpload(context.Background(), "fp", failOnce); err == nil {
		t.Fatal("first upload should fail")
	}
	id, hit, err := c.LookupOrUpload(context.Background(), "fp", failOnce)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if hit || id != 7 {
		t.Fatalf("failure must not be cached: id=%d hit=%v", id, hit)
	}
}

// gatedStore stalls the second read of one key, standing in for a slow
// remote store round trip.
type gatedStore struct {
	cache.Cache
	key   string
	gate  chan struct{}
	reads atomic.Int64
}

func (s *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == s.key && s.reads.Add(1) == 2 {
		<-s.gate
	}
	return s.Cache.Get(ctx, key)
}

func TestSlowStoreReadDoesNotBlockOtherFingerprints(t *testing.T) {
	gate := make(chan struct{})
	store := &gatedStore{Cache: cache.NewInMemoryCache(), key: "slow", gate: gate}
	c := New(store)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		c.LookupOrUpload(context.Background(), "slow", func(context.Context) (int64, error) { return 1, nil })
	}()

	deadline := time.Now().Add(time.Second)
	for store.reads.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("slow caller never re-checked the store")
		}
		time.Sleep(time.Millisecond)
	}

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		c.LookupOrUpload(context.Background(), "fast", func(context.Context) (int64, error) { return 2, nil })
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("a stalled store read for one fingerprint blocked another")
	}

	close(gate)
	<-slowDone
}

func TestConcurrentCallersShareOneUpload(t *testing.T) {
	c := New(cache.NewInMemoryCache())
	var uploads atomic.Int64
	release := make(chan struct{})
	upload := func(ctx context.Context) (int64, error) {
		uploads.Add(1)
		<-release
		return 99, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := c.LookupOrUpload(context.Background(), "shared", upload)
			if err != nil {
				errs <- err
				return
			}
			if id != 99 {
				errs <- fmt.Errorf("wrong id %d", id)
			}
		}()
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("caller failed: %v", err)
	}
	if uploads.Load() != 1 {
		t.Fatalf("identical payloads uploaded %d times, want 1", uploads.Load())
	}
}
