package limits

import (
	"sync"
	"testing"

	"skyroute-hq/charon/pkg/config"
)

func TestMemoryController_UnknownProviderAdmitted(t *testing.T) {
	c := NewMemoryController(nil, nil)

	adm := c.CheckAndTrack("ghost", "user-1")
	if !adm.Allowed || adm.Tracked {
		t.Errorf("admission = %+v, want allowed and untracked", adm)
	}
	if !c.CheckCostLimits("ghost") {
		t.Error("unknown provider should pass cost limits")
	}
}

func TestMemoryController_ConcurrencySlots(t *testing.T) {
	c := NewMemoryController(map[string]config.AdmissionConfig{
		"p1": {MaxConcurrentPerIdentity: 2},
	}, nil)

	first := c.CheckAndTrack("p1", "user-1")
	second := c.CheckAndTrack("p1", "user-1")
	if !first.Allowed || !second.Allowed {
		t.Fatal("first two admissions should be allowed")
	}
	if !first.Tracked || !second.Tracked {
		t.Fatal("concurrency admissions should be tracked")
	}

	third := c.CheckAndTrack("p1", "user-1")
	if third.Allowed {
		t.Error("third admission should be refused")
	}
	if third.Tracked {
		t.Error("a refused concurrency check must not leave a reservation")
	}
	if third.Code != CodeConcurrency {
		t.Errorf("refusal code = %q, want %q", third.Code, CodeConcurrency)
	}

	// A different identity has its own slots.
	if adm := c.CheckAndTrack("p1", "user-2"); !adm.Allowed {
		t.Error("other identity should be admitted")
	}

	// Rollback frees a slot.
	c.Untrack("p1", "user-1")
	if adm := c.CheckAndTrack("p1", "user-1"); !adm.Allowed {
		t.Error("admission should succeed after Untrack")
	}
}

func TestMemoryController_RateRefusalLeavesTrackedReservation(t *testing.T) {
	c := NewMemoryController(map[string]config.AdmissionConfig{
		"p1": {MaxConcurrentPerIdentity: 100, RequestsPerMinute: 1},
	}, nil)

	// Burst of 1/6+1 = 1, so the second immediate request is refused
	// by the rate limiter after its slot was reserved.
	first := c.CheckAndTrack("p1", "user-1")
	if !first.Allowed {
		t.Fatalf("first admission refused: %+v", first)
	}

	second := c.CheckAndTrack("p1", "user-1")
	if second.Allowed {
		t.Fatal("second immediate admission should be rate-refused")
	}
	if !second.Tracked {
		t.Fatal("rate refusal after slot reservation must report Tracked for rollback")
	}
	if second.Code != CodeRate {
		t.Errorf("refusal code = %q, want %q", second.Code, CodeRate)
	}
	c.Untrack("p1", "user-1")
}

func TestMemoryController_CostLimits(t *testing.T) {
	c := NewMemoryController(map[string]config.AdmissionConfig{
		"p1": {CostLimit: 10},
	}, nil)

	if !c.CheckCostLimits("p1") {
		t.Fatal("fresh provider should pass cost limits")
	}

	c.LeaseCost("p1", 6)
	if !c.CheckCostLimits("p1") {
		t.Error("under the limit should pass")
	}

	c.LeaseCost("p1", 5)
	if c.CheckCostLimits("p1") {
		t.Error("at or over the limit should fail")
	}

	c.ReleaseCost("p1", 4)
	if !c.CheckCostLimits("p1") {
		t.Error("releasing cost should re-admit")
	}
}

func TestMemoryController_ConcurrentAccess(t *testing.T) {
	c := NewMemoryController(map[string]config.AdmissionConfig{
		"p1": {MaxConcurrentPerIdentity: 4},
	}, nil)

	var wg sync.WaitGroup
	var admitted sync.Map
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm := c.CheckAndTrack("p1", "user-1")
			if adm.Allowed {
				admitted.Store(i, true)
			} else if adm.Tracked {
				c.Untrack("p1", "user-1")
			}
		}(i)
	}
	wg.Wait()

	count := 0
	admitted.Range(func(_, _ any) bool { count++; return true })
	if count != 4 {
		t.Errorf("admitted %d concurrent holders, want exactly 4", count)
	}
}
