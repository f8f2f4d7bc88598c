// Package trace allocates and carries the identifier that correlates every
// audit record belonging to one inbound request.
package trace

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDPrefix is the fixed prefix of every trace identifier.
const IDPrefix = "trace_"

// Context carries one request's trace identifier and the ordered sequence of
// pipeline stages completed so far. It is owned by the orchestrator for the
// lifetime of the request and becomes immutable history afterwards.
type Context struct {
	TraceID   string
	CreatedAt time.Time

	mu     sync.Mutex
	stages []string
}

// New allocates a fresh trace context. The identifier is "trace_" followed
// by 12 hex digits of a random UUID, globally unique with overwhelming
// probability across the process lifetime.
func New() *Context {
	id := uuid.New()
	return &Context{
		TraceID:   IDPrefix + hex.EncodeToString(id[:])[:12],
		CreatedAt: time.Now().UTC(),
	}
}

// Advance records that a pipeline stage completed and returns the stage's
// sequence number within this trace. dup is true when the stage was already
// recorded, a protocol violation used for diagnostics only, never for
// correctness enforcement.
func (c *Context) Advance(stage string) (seq int, dup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.stages {
		if s == stage {
			dup = true
			break
		}
	}
	seq = len(c.stages)
	c.stages = append(c.stages, stage)
	return seq, dup
}

// Stages returns a copy of the completed stage sequence in invocation order.
func (c *Context) Stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.stages))
	copy(out, c.stages)
	return out
}

// Seq returns the number of stages recorded so far. The next audit record
// for this trace uses this value as its sequence number.
func (c *Context) Seq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stages)
}
