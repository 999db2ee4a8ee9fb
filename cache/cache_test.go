package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration, max int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(true, ttl, max, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clock
}

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"iphone 15", "  iphone   15 ", true},
		{"iPhone 15", "iphone 15", true},
		{"iphone 15", "iphone 16", false},
		{"кроссовки", "КРОССОВКИ", true},
	}
	for _, tt := range tests {
		got := Key(tt.a) == Key(tt.b)
		if got != tt.same {
			t.Errorf("Key(%q) == Key(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
	if len(Key("x")) != 64 {
		t.Errorf("Key length = %d, want 64 hex chars", len(Key("x")))
	}
}

func TestExpiryBoundary(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	key := Key("laptop")
	c.Set(key, []byte(`[{"name":"x"}]`))

	clock.Advance(59 * time.Second)
	if _, ok := c.Get(key); !ok {
		t.Fatal("entry younger than TTL should hit")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(key); ok {
		t.Fatal("entry aged exactly TTL should miss")
	}
	if c.Stats().Size != 0 {
		t.Errorf("expired entry should be evicted on read, size = %d", c.Stats().Size)
	}
}

func TestStaleRemovalSparesFreshEntry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	key := Key("kettle")
	c.Set(key, []byte("old"))
	stale := clock.Now()

	// A reader saw the old entry expire; a writer refreshes the key before
	// the reader gets to remove it.
	clock.Advance(2 * time.Minute)
	c.Set(key, []byte("fresh"))
	c.dropStale(key, stale)

	got, ok := c.Get(key)
	if !ok || string(got) != "fresh" {
		t.Fatalf("Get = %q, %v; fresh entry must survive removal of the stale one", got, ok)
	}

	c.dropStale(key, clock.Now())
	if _, ok := c.Get(key); ok {
		t.Error("matching entry should be removed")
	}
}

func TestSetReplacesWholeEntry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	key := Key("phone")
	c.Set(key, []byte("old"))
	clock.Advance(50 * time.Second)
	c.Set(key, []byte("new"))
	clock.Advance(50 * time.Second)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("re-set entry should carry a fresh timestamp")
	}
	if string(got) != "new" {
		t.Errorf("payload = %q, want new", got)
	}
}

func TestSetCopiesPayload(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	buf := []byte("abc")
	c.Set("k", buf)
	buf[0] = 'z'
	got, _ := c.Get("k")
	if string(got) != "abc" {
		t.Errorf("stored payload mutated through caller slice: %q", got)
	}
}

func TestBoundedCapacity(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	if size := c.Stats().Size; size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("k4"); !ok {
		t.Error("newest entry should be present")
	}
}

func TestDisabledCache(t *testing.T) {
	c, err := New(false, time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("k", []byte("v"))
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache should never hit")
	}
	st := c.Stats()
	if st.Enabled || st.Size != 0 {
		t.Errorf("Stats = %+v, want disabled and empty", st)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key(fmt.Sprintf("q%d", i%5))
			payload := []byte(fmt.Sprintf("payload-%d", i%5))
			c.Set(key, payload)
			if got, ok := c.Get(key); ok && string(got) != string(payload) {
				t.Errorf("partial or foreign payload %q for %s", got, key)
			}
		}(i)
	}
	wg.Wait()
}
