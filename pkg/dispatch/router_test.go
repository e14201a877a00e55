package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"reviewhook/internal"
	"reviewhook/pkg/githubapp"
)

func discardLogger() *log.Logger {
	return log.New(nopWriter{}, "", 0)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestDispatchFaultIsolation tests that a failing first handler never stops
// the second one, and that the failure does not propagate.
func TestDispatchFaultIsolation(t *testing.T) {
	router := NewRouter(discardLogger())

	var calls []string
	router.Register("issue_comment", "created", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	router.Register("issue_comment", "created", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		calls = append(calls, "second")
		return nil
	})

	evt := &internal.Event{Name: "issue_comment", Action: "created"}
	router.Dispatch(context.Background(), evt, nil)

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("expected both handlers in order, got %v", calls)
	}
}

// TestDispatchPanicIsolation tests that a panicking handler is contained.
func TestDispatchPanicIsolation(t *testing.T) {
	router := NewRouter(discardLogger())

	var secondRan bool
	router.Register("pull_request", "opened", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		panic("handler exploded")
	})
	router.Register("pull_request", "opened", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		secondRan = true
		return nil
	})

	evt := &internal.Event{Name: "pull_request", Action: "opened"}
	router.Dispatch(context.Background(), evt, nil)

	if !secondRan {
		t.Fatalf("expected second handler to run after panic in first")
	}
}

// TestDispatchWildcardAction tests that "*" handlers run after exact ones.
func TestDispatchWildcardAction(t *testing.T) {
	router := NewRouter(discardLogger())

	var calls []string
	router.Register("issues", AnyAction, func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		calls = append(calls, "wildcard")
		return nil
	})
	router.Register("issues", "opened", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		calls = append(calls, "exact")
		return nil
	})

	router.Dispatch(context.Background(), &internal.Event{Name: "issues", Action: "opened"}, nil)
	if len(calls) != 2 || calls[0] != "exact" || calls[1] != "wildcard" {
		t.Fatalf("expected exact then wildcard, got %v", calls)
	}

	calls = nil
	router.Dispatch(context.Background(), &internal.Event{Name: "issues", Action: "closed"}, nil)
	if len(calls) != 1 || calls[0] != "wildcard" {
		t.Fatalf("expected wildcard only for unregistered action, got %v", calls)
	}
}

// TestDispatchNoMatch tests that an unrouted event is a silent no-op.
func TestDispatchNoMatch(t *testing.T) {
	router := NewRouter(discardLogger())
	router.Register("push", "", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		t.Fatalf("push handler must not run for issues event")
		return nil
	})

	router.Dispatch(context.Background(), &internal.Event{Name: "issues", Action: "opened"}, nil)
}

// TestDispatchConcurrentSharedKey tests that concurrent dispatches for the
// same (event, action) key are safe when exact and wildcard handlers combine.
// Run with -race: the combined handler list must never be built inside the
// route map's backing arrays.
func TestDispatchConcurrentSharedKey(t *testing.T) {
	router := NewRouter(discardLogger())

	var calls atomic.Int64
	count := func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		calls.Add(1)
		return nil
	}
	// Three exact handlers leave spare capacity in the route slice; the
	// wildcard handler must not be appended into it.
	router.Register("issue_comment", "created", count)
	router.Register("issue_comment", "created", count)
	router.Register("issue_comment", "created", count)
	router.Register("issue_comment", AnyAction, count)

	const goroutines = 8
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := &internal.Event{Name: "issue_comment", Action: "created"}
			router.Dispatch(context.Background(), evt, nil)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != goroutines*4 {
		t.Fatalf("expected %d handler calls, got %d", goroutines*4, got)
	}
}

// TestMatches tests the pre-dispatch route check.
func TestMatches(t *testing.T) {
	router := NewRouter(discardLogger())
	router.Register("issue_comment", "created", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		return nil
	})
	router.Register("push", "", func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		return nil
	})

	if !router.Matches(&internal.Event{Name: "issue_comment", Action: "created"}) {
		t.Fatalf("expected exact match")
	}
	if router.Matches(&internal.Event{Name: "issue_comment", Action: "deleted"}) {
		t.Fatalf("expected no match for unregistered action")
	}
	if !router.Matches(&internal.Event{Name: "push", Action: "whatever"}) {
		t.Fatalf("expected wildcard match for empty-action registration")
	}
	if router.Matches(nil) {
		t.Fatalf("expected nil event not to match")
	}
}
