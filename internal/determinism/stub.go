package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// StubOutcome is the recorded result of one effect-hook invocation.
type StubOutcome struct {
	// Output is what the hook published via RecordOutcome.
	Output map[string]any `json:"output,omitempty"`
	// Error is the error string the hook returned, empty on success.
	Error string `json:"error,omitempty"`
	// CalledNext records whether the hook passed control to its
	// continuation, so replay preserves short-circuit behavior.
	CalledNext bool `json:"called_next"`
}

// StubTable maps hook invocation keys (hook id + input fingerprint) to
// previously recorded outcomes. During replay the runner consults the
// table instead of invoking the real hook. Shared tables are read-only
// for the duration of a replay session.
type StubTable struct {
	mu       sync.RWMutex
	outcomes map[string]StubOutcome
}

// NewStubTable creates a table from recorded outcomes; nil is treated as
// empty.
func NewStubTable(outcomes map[string]StubOutcome) *StubTable {
	copied := make(map[string]StubOutcome, len(outcomes))
	for k, v := range outcomes {
		copied[k] = v
	}
	return &StubTable{outcomes: copied}
}

// Put records an outcome under the given invocation key.
func (t *StubTable) Put(key string, out StubOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[key] = out
}

// Lookup returns the recorded outcome for an invocation key.
func (t *StubTable) Lookup(key string) (StubOutcome, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, ok := t.outcomes[key]
	return out, ok
}

// Len reports the number of recorded outcomes.
func (t *StubTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.outcomes)
}

// Snapshot returns a copy of the table suitable for embedding in a
// manifest.
func (t *StubTable) Snapshot() map[string]StubOutcome {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]StubOutcome, len(t.outcomes))
	for k, v := range t.outcomes {
		out[k] = v
	}
	return out
}

// InvocationKey builds the stub-table key for one hook invocation.
func InvocationKey(hookName string, input any) string {
	return hookName + ":" + Fingerprint(input)
}

// Fingerprint returns a stable hex digest of a value. encoding/json
// marshals map keys in sorted order, so equal values always produce equal
// fingerprints.
func Fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("unserializable")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
