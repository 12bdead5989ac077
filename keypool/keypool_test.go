package keypool

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, keys ...string) (*Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := New(Static(keys...), WithClock(clock.now))
	if err := p.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return p, clock
}

func TestLoadEmptySource(t *testing.T) {
	p := New(Static())
	if err := p.Load(); !errors.Is(err, ErrNoCredentialsConfigured) {
		t.Fatalf("Load() error = %v, want ErrNoCredentialsConfigured", err)
	}
	if _, err := p.NextAvailable(); !errors.Is(err, ErrNoCredentialsConfigured) {
		t.Fatalf("NextAvailable() error = %v, want ErrNoCredentialsConfigured", err)
	}
}

func TestLoadSkipsBlankKeys(t *testing.T) {
	p, _ := newTestPool(t, "", "key-a", "")
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}
}

func TestLoadSourceError(t *testing.T) {
	boom := errors.New("disk on fire")
	p := New(KeySourceFunc(func() ([]string, error) { return nil, boom }))
	if err := p.Load(); !errors.Is(err, boom) {
		t.Fatalf("Load() error = %v, want wrapped source error", err)
	}
}

func TestNextAvailableRotates(t *testing.T) {
	p, _ := newTestPool(t, "key-a", "key-b", "key-c")

	var got []int
	for i := 0; i < 5; i++ {
		lease, err := p.NextAvailable()
		if err != nil {
			t.Fatalf("NextAvailable() error: %v", err)
		}
		got = append(got, lease.Index)
	}
	want := []int{0, 1, 2, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestRateLimitedKeyIsSkippedUntilExpiry(t *testing.T) {
	p, clock := newTestPool(t, "key-a", "key-b")
	p.MarkRateLimited(0, 30*time.Second)

	for i := 0; i < 10; i++ {
		lease, err := p.NextAvailable()
		if err != nil {
			t.Fatalf("NextAvailable() error: %v", err)
		}
		if lease.Index == 0 {
			t.Fatalf("rate-limited key returned on call %d", i)
		}
	}

	clock.advance(30 * time.Second)
	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		lease, err := p.NextAvailable()
		if err != nil {
			t.Fatalf("NextAvailable() error: %v", err)
		}
		seen[lease.Index] = true
	}
	if !seen[0] {
		t.Fatalf("key 0 should be available again after its window elapsed")
	}
}

func TestMarkRateLimitedDefault(t *testing.T) {
	p, clock := newTestPool(t, "key-a")
	p.MarkRateLimited(0, 0)

	if _, err := p.NextAvailable(); !errors.Is(err, ErrAllCredentialsExhausted) {
		t.Fatalf("NextAvailable() error = %v, want ErrAllCredentialsExhausted", err)
	}
	st := p.Status()[0]
	if !st.RateLimited || st.SecondsRemaining != 60 {
		t.Fatalf("Status() = %+v, want rate limited for 60s", st)
	}

	clock.advance(59 * time.Second)
	if _, err := p.NextAvailable(); err == nil {
		t.Fatalf("key should still be limited after 59s")
	}
	clock.advance(time.Second)
	if _, err := p.NextAvailable(); err != nil {
		t.Fatalf("key should be available after 60s: %v", err)
	}
}

func TestThreeErrorsMakeKeyUnavailableOneSuccessRestores(t *testing.T) {
	p, _ := newTestPool(t, "key-a")

	p.MarkError(0, "boom 1")
	p.MarkError(0, "boom 2")
	if _, err := p.NextAvailable(); err != nil {
		t.Fatalf("two errors should not disable the key: %v", err)
	}

	p.MarkError(0, "boom 3")
	if _, err := p.NextAvailable(); !errors.Is(err, ErrAllCredentialsExhausted) {
		t.Fatalf("NextAvailable() error = %v, want ErrAllCredentialsExhausted", err)
	}
	st := p.Status()[0]
	if st.Healthy || st.ErrorCount != 3 || st.LastError != "boom 3" {
		t.Fatalf("Status() = %+v, want unhealthy with 3 errors", st)
	}

	p.MarkSuccess(0)
	if _, err := p.NextAvailable(); err != nil {
		t.Fatalf("one success should restore availability: %v", err)
	}
	st = p.Status()[0]
	if !st.Healthy || st.ErrorCount != 2 {
		t.Fatalf("Status() = %+v, want healthy with 2 errors", st)
	}
}

func TestMarkSuccessFloorsAtZero(t *testing.T) {
	p, _ := newTestPool(t, "key-a")
	p.MarkSuccess(0)
	p.MarkSuccess(0)
	if got := p.Status()[0].ErrorCount; got != 0 {
		t.Fatalf("ErrorCount = %d, want 0", got)
	}
}

func TestMarkIgnoresOutOfRangeIndex(t *testing.T) {
	p, _ := newTestPool(t, "key-a")
	p.MarkError(5, "nope")
	p.MarkRateLimited(-1, time.Minute)
	p.MarkSuccess(1)
	if st := p.Status()[0]; st.ErrorCount != 0 || st.RateLimited {
		t.Fatalf("out-of-range marks changed state: %+v", st)
	}
}

func TestReloadResetsHealth(t *testing.T) {
	p, _ := newTestPool(t, "key-a", "key-b")
	p.MarkError(0, "x")
	p.MarkError(0, "x")
	p.MarkError(0, "x")
	p.MarkRateLimited(1, time.Hour)

	if err := p.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for _, st := range p.Status() {
		if !st.Healthy || st.RateLimited || st.ErrorCount != 0 {
			t.Fatalf("state not reset after reload: %+v", st)
		}
	}
}

func TestStatusMasksKeys(t *testing.T) {
	p, _ := newTestPool(t, "AIzaSyExampleKey1234", "short")
	st := p.Status()
	if st[0].MaskedKey != "AIza...1234" {
		t.Fatalf("MaskedKey = %q", st[0].MaskedKey)
	}
	if st[1].MaskedKey != "****" {
		t.Fatalf("MaskedKey(short) = %q", st[1].MaskedKey)
	}
}
