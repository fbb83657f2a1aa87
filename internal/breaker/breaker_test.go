package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

var errAdapter = errors.New("adapter exploded")

// fakeClock lets tests move breaker time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, settings Settings) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(store.RoleGraph, settings)
	b.now = clock.now
	return b, clock
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Call(context.Background(), func(context.Context) error { return errAdapter })
		if !errors.Is(err, errAdapter) {
			t.Fatalf("failure %d: got %v, want adapter error", i+1, err)
		}
	}
}

func TestBreakerOpensExactlyAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})

	failN(t, b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("after 2 failures state = %s, want closed", got)
	}

	failN(t, b, 1)
	if got := b.State(); got != StateOpen {
		t.Fatalf("after 3 failures state = %s, want open", got)
	}
}

func TestBreakerOpenRejectsWithoutInvoking(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	failN(t, b, 3)

	invoked := false
	clock.advance(10 * time.Second)
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want *OpenError", err)
	}
	if invoked {
		t.Fatal("wrapped operation invoked while breaker open")
	}
	if openErr.Role != store.RoleGraph {
		t.Errorf("OpenError.Role = %s, want graph", openErr.Role)
	}
	if want := 20 * time.Second; openErr.RetryAfter != want {
		t.Errorf("RetryAfter = %s, want %s", openErr.RetryAfter, want)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	failN(t, b, 3)

	clock.advance(30 * time.Second)
	invoked := false
	if err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if !invoked {
		t.Fatal("trial call never reached the adapter")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after first trial success = %s, want half_open", got)
	}
}

func TestBreakerClosesAfterSuccessThresholdAndResetsCounters(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	failN(t, b, 3)
	clock.advance(31 * time.Second)

	ok := func(context.Context) error { return nil }
	if err := b.Call(context.Background(), ok); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if err := b.Call(context.Background(), ok); err != nil {
		t.Fatalf("second trial: %v", err)
	}

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("state = %s, want closed", snap.State)
	}
	if snap.Metrics != (Metrics{}) {
		t.Errorf("metrics not reset on close: %+v", snap.Metrics)
	}
}

func TestBreakerHalfOpenReopensOnSingleFailure(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	failN(t, b, 3)
	clock.advance(31 * time.Second)

	// One trial success, then a failure: straight back to open.
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	failN(t, b, 1)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after half-open failure", got)
	}

	// And the next call inside the new recovery window is rejected again.
	err := b.Call(context.Background(), func(context.Context) error { return nil })
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want *OpenError after reopen", err)
	}
}

func TestBreakerHalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	b, clock := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	failN(t, b, 3)
	clock.advance(30 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Call(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// While the trial is in flight, a concurrent caller is rejected
	// without reaching the adapter.
	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("concurrent call during trial: got %v, want *OpenError", err)
	}
	if invoked {
		t.Fatal("second caller reached the adapter during the trial")
	}

	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after trial success = %s, want half_open", got)
	}

	// With the trial finished, the next call is admitted and closes the
	// breaker.
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second trial: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestBreakerSuccessClearsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})

	failN(t, b, 2)
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}
	// Two more failures should not reach the threshold of three.
	failN(t, b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed (streak was broken)", got)
	}

	snap := b.Snapshot()
	if snap.Metrics.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", snap.Metrics.ConsecutiveFailures)
	}
	if snap.Metrics.TotalOperations != 5 {
		t.Errorf("TotalOperations = %d, want 5", snap.Metrics.TotalOperations)
	}
}

func TestManagerOwnsOneBreakerPerOptionalRole(t *testing.T) {
	m := NewManager()

	for _, role := range store.OptionalRoles() {
		if m.For(role) == nil {
			t.Errorf("no breaker for optional role %s", role)
		}
	}
	for _, role := range store.CriticalRoles() {
		if m.For(role) != nil {
			t.Errorf("critical role %s must not be behind a breaker", role)
		}
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	for role, st := range snap {
		if st.State != StateClosed {
			t.Errorf("%s breaker starts %s, want closed", role, st.State)
		}
	}
}

func TestDefaultSettingsPerStore(t *testing.T) {
	graph := DefaultSettings(store.RoleGraph)
	cache := DefaultSettings(store.RoleCache)

	if graph.RecoveryTimeout != 30*time.Second {
		t.Errorf("graph recovery timeout = %s, want 30s", graph.RecoveryTimeout)
	}
	if cache.RecoveryTimeout != 60*time.Second {
		t.Errorf("cache recovery timeout = %s, want 60s", cache.RecoveryTimeout)
	}
	if graph.FailureThreshold != 3 || cache.FailureThreshold != 3 {
		t.Error("failure threshold default must be 3")
	}
	if graph.SuccessThreshold != 2 || cache.SuccessThreshold != 2 {
		t.Error("success threshold default must be 2")
	}
}
