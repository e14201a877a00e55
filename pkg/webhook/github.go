package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"reviewhook/internal"
	"reviewhook/pkg/githubapp"
)

// Publisher is the bus side the ingress publishes to.
type Publisher interface {
	Publish(ctx context.Context, topic string, event internal.Event) error
}

// GitHubHandler is the webhook HTTP boundary. It verifies the signature over
// the raw body, builds the event, routes it to bus topics and answers 202
// before any downstream work happens.
type GitHubHandler struct {
	secret       []byte
	rules        *internal.RuleEngine
	publisher    Publisher
	logger       *log.Logger
	maxBody      int64
	defaultTopic string
}

// NewGitHubHandler creates the ingress handler. When no rules are configured
// every verified event goes to defaultTopic.
func NewGitHubHandler(secret string, rules *internal.RuleEngine, publisher Publisher, logger *log.Logger, maxBody int64, defaultTopic string) (*GitHubHandler, error) {
	if logger == nil {
		logger = log.Default()
	}
	return &GitHubHandler{
		secret:       []byte(secret),
		rules:        rules,
		publisher:    publisher,
		logger:       logger,
		maxBody:      maxBody,
		defaultTopic: defaultTopic,
	}, nil
}

func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	eventName := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	internal.IncRequest(eventName)
	logger := internal.WithDeliveryID(h.logger, deliveryID)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Signature first, always. Nothing touches the payload until the HMAC
	// over the raw bytes checks out.
	if !githubapp.VerifySignature(h.secret, rawBody, r.Header.Get("X-Hub-Signature-256")) {
		internal.IncSignatureFailure()
		logger.Printf("signature verification failed event=%s", eventName)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if eventName == "" {
		internal.IncParseError()
		logger.Printf("missing X-GitHub-Event header")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var object map[string]interface{}
	if err := json.Unmarshal(rawBody, &object); err != nil {
		internal.IncParseError()
		logger.Printf("malformed payload event=%s: %v", eventName, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if eventName == "ping" {
		w.WriteHeader(http.StatusOK)
		return
	}

	action, _ := object["action"].(string)
	evt := internal.Event{
		Name:       eventName,
		Action:     action,
		DeliveryID: deliveryID,
		RawPayload: rawBody,
		Data:       internal.Flatten(object),
	}

	topics := []string{h.defaultTopic}
	if h.rules != nil && h.rules.Len() > 0 {
		topics = h.rules.Evaluate(evt)
	}

	// Background processing outlives the request: GitHub gets its 202 and
	// may disconnect while handlers are still running.
	ctx := context.WithoutCancel(r.Context())
	for _, topic := range topics {
		if err := h.publisher.Publish(ctx, topic, evt); err != nil {
			logger.Printf("publish %s failed: %v", topic, err)
			continue
		}
		internal.IncPublished(topic)
	}
	logger.Printf("event=%s action=%s topics=%v", evt.Name, evt.Action, topics)

	w.WriteHeader(http.StatusAccepted)
}
