package retry

import (
	"testing"
	"time"
)

func TestBreaker_ClosedByDefault(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig())
	if !r.Allow("bulk_create") {
		t.Fatal("fresh breaker must allow calls")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{Threshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		r.RecordFailure("sync_line_1")
		if !r.Allow("sync_line_1") {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}

	r.RecordFailure("sync_line_1")
	if r.Allow("sync_line_1") {
		t.Fatal("breaker must block calls once failure count reaches threshold")
	}

	state := r.State("sync_line_1")
	if !state.Open || state.FailureCount != 3 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{Threshold: 1, RecoveryTimeout: time.Minute})
	r.RecordFailure("bulk_delete")

	if r.Allow("bulk_delete") {
		t.Fatal("tripped key must be blocked")
	}
	if !r.Allow("bulk_create") {
		t.Fatal("unrelated key must stay closed")
	}
}

func TestBreaker_RecoveryTimeoutReopensCalls(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{Threshold: 1, RecoveryTimeout: time.Minute})

	base := time.Now()
	r.now = func() time.Time { return base }
	r.RecordFailure("bulk_update")

	if r.Allow("bulk_update") {
		t.Fatal("breaker must be open right after tripping")
	}

	r.now = func() time.Time { return base.Add(61 * time.Second) }
	if !r.Allow("bulk_update") {
		t.Fatal("breaker must permit a probe after the recovery timeout")
	}

	// A failed probe re-opens with a fresh timestamp.
	r.RecordFailure("bulk_update")
	r.now = func() time.Time { return base.Add(90 * time.Second) }
	if r.Allow("bulk_update") {
		t.Fatal("failed probe must re-open the breaker with an updated timestamp")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{Threshold: 2, RecoveryTimeout: time.Minute})
	r.RecordFailure("flush")
	r.RecordSuccess("flush")
	r.RecordFailure("flush")

	if !r.Allow("flush") {
		t.Fatal("success must reset the failure streak")
	}
	if state := r.State("flush"); state.FailureCount != 1 {
		t.Fatalf("expected streak of 1 after reset, got %d", state.FailureCount)
	}
}
