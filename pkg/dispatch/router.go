package dispatch

import (
	"context"
	"fmt"
	"log"

	"reviewhook/internal"
	"reviewhook/pkg/githubapp"
)

// HandlerFunc processes one webhook event with a client already authenticated
// for the event's installation.
type HandlerFunc func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error

// AnyAction registers a handler for every action of an event type.
const AnyAction = "*"

type routeKey struct {
	event  string
	action string
}

// Router maps (event type, action) pairs to handlers. It is populated during
// startup and read-only during dispatch; Register must not be called after
// the worker starts.
type Router struct {
	routes map[routeKey][]HandlerFunc
	logger *log.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		routes: make(map[routeKey][]HandlerFunc),
		logger: logger,
	}
}

// Register adds a handler for the (event, action) pair. An empty or "*"
// action matches any action. Multiple handlers for the same pair run in
// registration order.
func (r *Router) Register(event, action string, handler HandlerFunc) {
	if event == "" || handler == nil {
		return
	}
	if action == "" {
		action = AnyAction
	}
	key := routeKey{event: event, action: action}
	r.routes[key] = append(r.routes[key], handler)
}

// Matches reports whether any handler is registered for the event.
func (r *Router) Matches(evt *internal.Event) bool {
	if evt == nil {
		return false
	}
	if len(r.routes[routeKey{event: evt.Name, action: evt.Action}]) > 0 {
		return true
	}
	return len(r.routes[routeKey{event: evt.Name, action: AnyAction}]) > 0
}

// Dispatch invokes every handler matching the event, exact-action handlers
// first, then wildcard handlers. A handler error or panic is logged and
// isolated: it never prevents the remaining handlers from running, and it
// never propagates to the caller. An event with no matching handler is a
// silent no-op.
func (r *Router) Dispatch(ctx context.Context, evt *internal.Event, client *githubapp.Client) {
	if evt == nil {
		return
	}
	exact := r.routes[routeKey{event: evt.Name, action: evt.Action}]
	var wildcard []HandlerFunc
	if evt.Action != AnyAction {
		wildcard = r.routes[routeKey{event: evt.Name, action: AnyAction}]
	}
	// Combine into a fresh slice. Appending onto the map's slice would write
	// into its backing array, which concurrent dispatches share.
	handlers := make([]HandlerFunc, 0, len(exact)+len(wildcard))
	handlers = append(handlers, exact...)
	handlers = append(handlers, wildcard...)
	for _, handler := range handlers {
		if err := r.invoke(ctx, handler, evt, client); err != nil {
			internal.IncHandlerFailure(evt.Name)
			r.logger.Printf("handler failed event=%s action=%s delivery=%s: %v", evt.Name, evt.Action, evt.DeliveryID, err)
		}
	}
}

func (r *Router) invoke(ctx context.Context, handler HandlerFunc, evt *internal.Event, client *githubapp.Client) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler(ctx, evt, client)
}
