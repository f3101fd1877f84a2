package determinism

import (
	"testing"
	"time"
)

func TestScriptClockReturnsSequence(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	script := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}

	clock := NewScriptClock(script)

	for i, want := range script {
		if got := clock.Now(); !got.Equal(want) {
			t.Fatalf("reading %d = %v, want %v", i, got, want)
		}
	}

	if clock.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", clock.Remaining())
	}
}

func TestScriptClockClampsWhenExhausted(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewScriptClock([]time.Time{base})

	clock.Now()
	for i := 0; i < 3; i++ {
		if got := clock.Now(); !got.Equal(base) {
			t.Fatalf("exhausted reading = %v, want clamped %v", got, base)
		}
	}
}

func TestScriptClockEmptyScript(t *testing.T) {
	clock := NewScriptClock(nil)
	if got := clock.Now(); !got.IsZero() {
		t.Fatalf("empty script reading = %v, want zero time", got)
	}
}

func TestRNGSameSeedSameSequence(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	for i := 0; i < 100; i++ {
		if av, bv := a.Int63(), b.Int63(); av != bv {
			t.Fatalf("draw %d diverged: %d vs %d", i, av, bv)
		}
	}

	if a.Seed() != 42 {
		t.Fatalf("Seed() = %d, want 42", a.Seed())
	}
}

func TestRNGDifferentSeedsDiverge(t *testing.T) {
	a := NewRNG(1)
	b := NewRNG(2)

	same := true
	for i := 0; i < 10; i++ {
		if a.Int63() != b.Int63() {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical sequences")
	}
}

func TestStubTableLookup(t *testing.T) {
	table := NewStubTable(nil)

	if _, ok := table.Lookup("missing"); ok {
		t.Fatal("Lookup() on empty table reported a hit")
	}

	out := StubOutcome{Output: map[string]any{"rows": 3}, CalledNext: true}
	table.Put("fetch:abc", out)

	got, ok := table.Lookup("fetch:abc")
	if !ok {
		t.Fatal("Lookup() missed a recorded outcome")
	}
	if !got.CalledNext || got.Output["rows"] != 3 {
		t.Fatalf("Lookup() = %+v, want %+v", got, out)
	}
}

func TestStubTableCopiesInitialOutcomes(t *testing.T) {
	source := map[string]StubOutcome{"a": {Error: "boom"}}
	table := NewStubTable(source)

	source["b"] = StubOutcome{}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d after mutating source map, want 1", table.Len())
	}

	snapshot := table.Snapshot()
	snapshot["c"] = StubOutcome{}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d after mutating snapshot, want 1", table.Len())
	}
}

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"x": 1, "y": "two", "z": []any{1, 2}}
	b := map[string]any{"z": []any{1, 2}, "y": "two", "x": 1}

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("equal maps produced different fingerprints")
	}
	if Fingerprint(a) == Fingerprint(map[string]any{"x": 2}) {
		t.Fatal("different maps produced equal fingerprints")
	}
}

func TestInvocationKeyIncludesHookName(t *testing.T) {
	payload := map[string]any{"id": "1"}
	if InvocationKey("a", payload) == InvocationKey("b", payload) {
		t.Fatal("invocation keys for different hooks collided")
	}
}
