// Package dataflow implements the runtime's deferred-generation layer:
// a record flagged DeferInit has no contents until something asks for
// it, at which point its registered Generator runs exactly once even
// if many goroutines request the same tag concurrently. This mirrors
// the scheduler's single-flight job dedup, applied to database reads
// instead of jobs.
package dataflow

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Engine invokes a tag's Generator at most once per (tag, host) pair
// until the record is next invalidated, coalescing concurrent callers
// onto the single in-flight call via singleflight.
type Engine struct {
	group singleflight.Group
	types *record.TypeTable
}

func New(types *record.TypeTable) *Engine {
	return &Engine{types: types}
}

// key identifies one generation attempt. Host is part of the key
// because a record's generator may legitimately run once per host
// that requests it before the generated payload is flushed and
// shared (e.g. a host-local shader parameter cache).
func key(t tag.Tag, host uint32) string {
	return fmt.Sprintf("%d@%d", uint32(t), host)
}

// Ensure runs hdr's registered Generator if the record is flagged
// DeferInit and not yet generated, blocking concurrent callers for
// the same (tag, host) on the single call in flight. It is a no-op,
// returning nil, for records that don't carry FlagDeferInit.
func (e *Engine) Ensure(db record.Accessor, t tag.Tag, hdr *record.Header, host uint32, tls interface{}) error {
	if !hdr.Has(record.FlagDeferInit) {
		return nil
	}
	ops, ok := e.types.Lookup(hdr.Type)
	if !ok || ops.Generate == nil {
		return fmt.Errorf("dataflow: no generator registered for type %d", hdr.Type)
	}

	_, err, _ := e.group.Do(key(t, host), func() (interface{}, error) {
		// A caller that reaches Do after an earlier call for this key
		// has already completed starts a fresh call; the flag tells it
		// the record is already generated.
		if !hdr.Has(record.FlagDeferInit) {
			return nil, nil
		}
		if err := ops.Generate(db, t, hdr, tls); err != nil {
			return nil, err
		}
		hdr.Clear(record.FlagDeferInit)
		return nil, nil
	})
	return err
}

// Invalidate drops any in-flight call for (t, host) from the
// coalescing group, so a later Ensure starts a new call instead of
// joining it. Ensure regenerates only if the record's header carries
// FlagDeferInit again; Invalidate does not set that flag itself.
func (e *Engine) Invalidate(t tag.Tag, host uint32) {
	e.group.Forget(key(t, host))
}
