// Package determinism supplies the injectable time, randomness, and
// effect-stub substrate that makes pipeline executions reproducible.
package determinism

import (
	"sync"
	"time"
)

// Clock supplies the current time to a pipeline execution. Real runs use
// SystemClock; replay uses a ScriptClock built from the timestamps the
// original run recorded.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by real wall-clock time (UTC).
func SystemClock() Clock { return systemClock{} }

// ScriptClock replays a fixed sequence of timestamps. Once the script is
// exhausted it keeps returning the last timestamp, so a replay that takes
// extra readings cannot run off the end.
type ScriptClock struct {
	mu    sync.Mutex
	times []time.Time
	idx   int
}

// NewScriptClock creates a clock that returns the given timestamps in
// order. An empty script degenerates to the zero time.
func NewScriptClock(times []time.Time) *ScriptClock {
	return &ScriptClock{times: times}
}

func (c *ScriptClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.times) == 0 {
		return time.Time{}
	}
	if c.idx >= len(c.times) {
		return c.times[len(c.times)-1]
	}
	t := c.times[c.idx]
	c.idx++
	return t
}

// Remaining reports how many scripted readings have not been consumed.
func (c *ScriptClock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx >= len(c.times) {
		return 0
	}
	return len(c.times) - c.idx
}
