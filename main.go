package main

import (
	"context"
	"expvar"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reviewhook/internal"
	"reviewhook/pkg/dispatch"
	"reviewhook/pkg/githubapp"
	"reviewhook/pkg/handlers"
	"reviewhook/pkg/review"
	"reviewhook/pkg/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Logger: internal.NewLogger("rules"),
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	bus, err := internal.NewBus(config.Messaging)
	if err != nil {
		logger.Fatalf("bus: %v", err)
	}
	defer bus.Close()

	clients, err := buildClientProvider(config, logger)
	if err != nil {
		logger.Fatalf("github auth: %v", err)
	}

	router := dispatch.NewRouter(internal.NewLogger("router"))
	relay := review.NewRelay(config.Review, internal.NewLogger("review"))
	handlers.Register(router, relay, internal.NewLogger("handlers"))

	worker := dispatch.NewWorker(bus, router, clients, workerTopics(config))

	ghHandler, err := webhook.NewGitHubHandler(
		config.GitHub.WebhookSecret,
		ruleEngine,
		bus,
		internal.NewLogger("webhook"),
		config.Server.MaxBodyBytes,
		config.Messaging.Topic,
	)
	if err != nil {
		logger.Fatalf("github handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(config.GitHub.WebhookPath, ghHandler)
	logger.Printf("github webhook enabled on %s", config.GitHub.WebhookPath)
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	handler := internal.NewRateLimitHandler(mux, config.Server)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil {
			logger.Printf("worker stopped: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	stopWorker()
}

// buildClientProvider picks the auth path: App installation tokens when App
// credentials are configured, the legacy shared token otherwise.
func buildClientProvider(config internal.Config, logger *log.Logger) (dispatch.ClientProvider, error) {
	if config.GitHub.AppID != 0 {
		var cred *githubapp.AppCredential
		var err error
		if config.GitHub.PrivateKey != "" {
			cred, err = githubapp.LoadCredential(config.GitHub.AppID, []byte(config.GitHub.PrivateKey))
		} else {
			cred, err = githubapp.LoadCredentialFile(config.GitHub.AppID, config.GitHub.PrivateKeyPath)
		}
		if err != nil {
			return nil, err
		}
		minter, err := githubapp.NewTokenMinter(cred, config.GitHub.APIBaseURL)
		if err != nil {
			return nil, err
		}
		return dispatch.NewAppClientProvider(minter, config.GitHub.APIBaseURL), nil
	}

	logger.Printf("no app_id configured, falling back to the legacy shared token")
	return dispatch.NewLegacyTokenProvider(config.GitHub.Token, config.GitHub.APIBaseURL), nil
}

// workerTopics is the default topic plus every topic the rules can emit.
func workerTopics(config internal.Config) []string {
	topics := []string{config.Messaging.Topic}
	seen := map[string]struct{}{config.Messaging.Topic: {}}
	for _, rule := range config.Rules {
		for _, topic := range rule.Emit {
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics
}
