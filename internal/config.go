package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, loaded once at startup and passed
// by reference into every component. There is no other configuration state.
type Config struct {
	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server"`
	// GitHub holds App credentials and webhook settings.
	GitHub GitHubConfig `yaml:"github"`
	// Review holds the external review service settings.
	Review ReviewConfig `yaml:"review"`
	// Messaging holds the event bus settings.
	Messaging MessagingConfig `yaml:"messaging"`
	// Rules route verified events to bus topics.
	Rules []Rule `yaml:"rules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
	WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
	ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	RateLimitRPS   int64  `yaml:"rate_limit_rps"`
	RateLimitBurst int64  `yaml:"rate_limit_burst"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path"`
}

// GitHubConfig holds GitHub App credentials and webhook settings.
// PrivateKey takes precedence over PrivateKeyPath when both are set.
// Token is the legacy personal-access-token fallback, consulted only when no
// App credentials are configured.
type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	WebhookPath    string `yaml:"webhook_path"`
	APIBaseURL     string `yaml:"api_base_url"`
	Token          string `yaml:"token"`
}

// ReviewConfig holds the external code review service settings. An empty URL
// disables the review relay.
type ReviewConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	TimeoutMS int64  `yaml:"timeout_ms"`
}

// MessagingConfig selects the event bus driver. Mirrors are publish-only
// drivers that receive a copy of every published event.
type MessagingConfig struct {
	Driver  string   `yaml:"driver"`
	Mirrors []string `yaml:"mirrors"`
	Topic   string   `yaml:"topic"`

	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	Durable   string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// HTTPConfig holds configuration for the publish-only HTTP mirror.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// LoadConfig loads the configuration from a YAML file. It expands environment
// variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GitHub.WebhookSecret == "" {
		return errors.New("github webhook_secret is required")
	}
	if c.GitHub.AppID != 0 && c.GitHub.PrivateKeyPath == "" && c.GitHub.PrivateKey == "" {
		return errors.New("github private_key or private_key_path is required with app_id")
	}
	if c.GitHub.AppID == 0 && c.GitHub.Token == "" {
		return errors.New("github app_id or a legacy token is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.GitHub.WebhookPath == "" {
		cfg.GitHub.WebhookPath = "/webhook"
	}
	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com"
	}
	if cfg.Review.TimeoutMS == 0 {
		cfg.Review.TimeoutMS = 300000
	}
	if cfg.Messaging.Driver == "" {
		cfg.Messaging.Driver = "gochannel"
	}
	if cfg.Messaging.Topic == "" {
		cfg.Messaging.Topic = "github.events"
	}
	if cfg.Messaging.GoChannel.OutputChannelBuffer == 0 {
		cfg.Messaging.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Messaging.HTTP.Mode == "" {
		cfg.Messaging.HTTP.Mode = "topic_url"
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		emit := make(EmitList, 0, len(rule.Emit))
		for _, topic := range rule.Emit {
			trimmed := strings.TrimSpace(topic)
			if trimmed != "" {
				emit = append(emit, trimmed)
			}
		}
		rule.Emit = emit
		if rule.When == "" || len(rule.Emit) == 0 {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
