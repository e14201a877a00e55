package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"reviewhook/internal"
)

// Subscriber is the bus side the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Worker drains the bus topics and drives the router. Every message is acked
// exactly once: webhook delivery is fire-and-forget, so there is nothing
// useful a nack could trigger, and a duplicate comment from a GitHub
// redelivery is an accepted side effect.
type Worker struct {
	subscriber  Subscriber
	router      *Router
	clients     ClientProvider
	codec       Codec
	logger      *log.Logger
	concurrency int
	topics      []string
}

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency bounds the number of events processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithCodec overrides the message codec.
func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a worker consuming the given topics.
func NewWorker(sub Subscriber, router *Router, clients ClientProvider, topics []string, opts ...Option) *Worker {
	w := &Worker{
		subscriber:  sub,
		router:      router,
		clients:     clients,
		codec:       DefaultCodec{},
		logger:      internal.NewLogger("dispatch"),
		concurrency: 4,
		topics:      topics,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to all topics and processes messages until the context is
// canceled. It returns after in-flight events finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, topic := range unique(w.topics) {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(ch <-chan *message.Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					sem <- struct{}{}
					wg.Add(1)
					go func(msg *message.Message) {
						defer wg.Done()
						defer func() { <-sem }()
						w.handleMessage(ctx, msg)
					}(msg)
				}
			}
		}(msgs)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *message.Message) {
	// All paths ack; see the Worker doc comment.
	defer msg.Ack()

	evt, err := w.codec.Decode(msg)
	if err != nil {
		w.logger.Printf("decode failed: %v", err)
		return
	}
	logger := internal.WithDeliveryID(w.logger, evt.DeliveryID)

	if !w.router.Matches(evt) {
		// No registered handler: not an error, and not worth a token mint.
		return
	}

	client, err := w.clients.Client(ctx, evt)
	if err != nil {
		if errors.Is(err, ErrMissingInstallation) {
			logger.Printf("event %s has no installation id, dropping", evt.Name)
			return
		}
		logger.Printf("client init failed for event %s: %v", evt.Name, err)
		return
	}

	internal.IncDispatch(evt.Name)
	w.router.Dispatch(ctx, evt, client)
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
