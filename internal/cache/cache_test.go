package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newCoordinator(ttl time.Duration) *Coordinator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewCoordinator(NewMemoryStore(), ttl, logger)
}

func countingLoader(value string) (Loader, *int32) {
	var calls int32
	return func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(value), nil
	}, &calls
}

func TestCoordinator_Get_LoadsOnceThenServesCached(t *testing.T) {
	c := newCoordinator(time.Minute)
	ctx := context.Background()
	load, calls := countingLoader("v1")

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "k", load)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "v1" {
			t.Fatalf("Get() = %q, want v1", got)
		}
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}

func TestCoordinator_Invalidate_SupersedesEntry(t *testing.T) {
	c := newCoordinator(time.Minute)
	ctx := context.Background()

	value := "v1"
	var calls int32
	load := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(value), nil
	}

	if got, _ := c.Get(ctx, "k", load); string(got) != "v1" {
		t.Fatalf("first Get() = %q", got)
	}
	value = "v2"
	c.Invalidate(ctx, "k")

	got, err := c.Get(ctx, "k", load)
	if err != nil {
		t.Fatalf("Get() after invalidate error = %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Get() after invalidate = %q, want v2", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("loader calls = %d, want 2", n)
	}
}

func TestCoordinator_Get_RacingInvalidateSupersedesStoredEntry(t *testing.T) {
	c := newCoordinator(time.Minute)
	ctx := context.Background()

	// The invalidation lands while the loader is in flight: the entry is
	// stored under the pre-load version and must not be served afterwards.
	var calls int32
	load := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&calls) == 1 {
			c.Invalidate(ctx, "k")
			return []byte("stale"), nil
		}
		return []byte("fresh"), nil
	}

	if got, _ := c.Get(ctx, "k", load); string(got) != "stale" {
		t.Fatalf("in-flight Get() = %q", got)
	}
	got, err := c.Get(ctx, "k", load)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("Get() = %q, want fresh (superseded entry served)", got)
	}
}

func TestCoordinator_Get_TTLExpiry(t *testing.T) {
	c := newCoordinator(10 * time.Millisecond)
	ctx := context.Background()
	load, calls := countingLoader("v")

	if _, err := c.Get(ctx, "k", load); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := c.Get(ctx, "k", load); err != nil {
		t.Fatalf("Get() after expiry error = %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("loader calls = %d, want 2 (expired entry served)", n)
	}
}

func TestCoordinator_Get_CoalescesConcurrentMisses(t *testing.T) {
	c := newCoordinator(time.Minute)
	ctx := context.Background()

	release := make(chan struct{})
	var calls int32
	load := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get(ctx, "k", load)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			if string(got) != "v" {
				t.Errorf("Get() = %q, want v", got)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("loader calls = %d, want 1 (misses not coalesced)", n)
	}
}

// brokenStore fails every operation, simulating a Redis outage.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (Entry, error) {
	return Entry{}, errors.New("store down")
}
func (brokenStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Bump(ctx context.Context, key string) error { return errors.New("store down") }
func (brokenStore) Version(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("store down")
}

func TestCoordinator_DegradesToLoaderOnStoreFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewCoordinator(brokenStore{}, time.Minute, logger)
	ctx := context.Background()
	load, calls := countingLoader("v")

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "k", load)
		if err != nil {
			t.Fatalf("Get() during outage error = %v", err)
		}
		if string(got) != "v" {
			t.Fatalf("Get() = %q, want v", got)
		}
	}
	c.Invalidate(ctx, "k")

	if n := atomic.LoadInt32(calls); n != 3 {
		t.Errorf("loader calls = %d, want 3 (every read degrades)", n)
	}

	// One warning per outage episode, not one per failed operation.
	var warns int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("warn lines = %d, want 1", warns)
	}
}

// flakyBumpStore fails Bump for one key and delegates everything else.
type flakyBumpStore struct {
	*MemoryStore
	failKey string
	bumps   int32
}

func (s *flakyBumpStore) Bump(ctx context.Context, key string) error {
	atomic.AddInt32(&s.bumps, 1)
	if key == s.failKey {
		return errors.New("bump failed")
	}
	return s.MemoryStore.Bump(ctx, key)
}

func TestCoordinator_Invalidate_AttemptsEveryKey(t *testing.T) {
	store := &flakyBumpStore{MemoryStore: NewMemoryStore(), failKey: "a"}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c := NewCoordinator(store, time.Minute, logger)
	ctx := context.Background()

	c.Invalidate(ctx, "a", "b")

	if n := atomic.LoadInt32(&store.bumps); n != 2 {
		t.Errorf("bump attempts = %d, want 2 (loop stopped at first failure)", n)
	}
	if v, _ := store.Version(ctx, "b"); v != 1 {
		t.Errorf("version(b) = %d, want 1 (later key never invalidated)", v)
	}
}

func TestCoordinator_LogsRecoveryOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := NewMemoryStore()
	c := NewCoordinator(store, time.Minute, logger)
	ctx := context.Background()
	load, _ := countingLoader("v")

	c.down.Store(true)
	if _, err := c.Get(ctx, "k", load); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Get(ctx, "k", load); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	var infos int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			infos++
		}
	}
	if infos != 1 {
		t.Errorf("recovery lines = %d, want 1", infos)
	}
}

func TestNilCoordinatorFallsThrough(t *testing.T) {
	var c *Coordinator
	load, calls := countingLoader("v")

	got, err := c.Get(context.Background(), "k", load)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" || atomic.LoadInt32(calls) != 1 {
		t.Errorf("nil coordinator did not call through: %q", got)
	}
	c.Invalidate(context.Background(), "k")
}

func TestGetJSON(t *testing.T) {
	c := newCoordinator(time.Minute)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out payload
	err := GetJSON(ctx, c, "k", &out, func(ctx context.Context) (interface{}, error) {
		return payload{Name: "alerts", Count: 3}, nil
	})
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.Name != "alerts" || out.Count != 3 {
		t.Errorf("GetJSON() = %+v", out)
	}

	// Second read is served from cache; the loader error proves it.
	var again payload
	err = GetJSON(ctx, c, "k", &again, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("loader must not run")
	})
	if err != nil {
		t.Fatalf("cached GetJSON() error = %v", err)
	}
	if again != out {
		t.Errorf("cached GetJSON() = %+v, want %+v", again, out)
	}
}

func TestMemoryStore_VersionCounter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v, err := s.Version(ctx, "k")
	if err != nil || v != 0 {
		t.Fatalf("Version() = %d, %v, want 0", v, err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Bump(ctx, "k"); err != nil {
			t.Fatalf("Bump() error = %v", err)
		}
	}
	v, _ = s.Version(ctx, "k")
	if v != 3 {
		t.Errorf("Version() after bumps = %d, want 3", v)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMiss", err)
	}
}
