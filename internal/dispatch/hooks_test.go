package dispatch_test

import (
	"testing"
	"time"

	"github.com/ricirt/taskdispatch/internal/dispatch"
)

func TestHooks_MergeCallsBoth(t *testing.T) {
	var a, b int
	h := dispatch.Hooks{OnUnknown: func(string) { a++ }}.Merge(dispatch.Hooks{OnUnknown: func(string) { b++ }})

	h.OnUnknown("x")
	h.OnProcessed("x", "success", time.Millisecond) // nil on both sides

	if a != 1 || b != 1 {
		t.Fatalf("expected both hooks called once, got a=%d b=%d", a, b)
	}
}
