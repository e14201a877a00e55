package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// Bus is the event bus between the webhook ingress and the dispatch worker.
// The primary driver serves both publish and subscribe; mirror drivers are
// publish-only and receive a copy of every event.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	mirrors    map[string]message.Publisher
	logger     watermill.LoggerAdapter
	// shared is set when publisher and subscriber are the same instance.
	shared bool
}

// NewBus builds the bus from configuration. The gochannel driver shares one
// instance between publisher and subscriber, which is what gives a single
// binary its in-process 202-then-background behavior.
func NewBus(cfg MessagingConfig) (*Bus, error) {
	logger := watermill.NewStdLogger(false, false)

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "gochannel"
	}

	bus := &Bus{mirrors: make(map[string]message.Publisher), logger: logger}
	switch driver {
	case "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		}, logger)
		bus.publisher = ch
		bus.subscriber = ch
		bus.shared = true
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		if err != nil {
			return nil, err
		}
		sub, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, nil, wmkafka.DefaultMarshaler{}, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		bus.publisher = pub
		bus.subscriber = sub
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		var stanOptions []stan.Option
		if cfg.NATS.URL != "" {
			stanOptions = append(stanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(wmnats.StreamingPublisherConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID,
			Marshaler:   wmnats.GobMarshaler{},
			StanOptions: stanOptions,
		}, logger)
		if err != nil {
			return nil, err
		}
		sub, err := wmnats.NewStreamingSubscriber(wmnats.StreamingSubscriberConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID + "-dispatch",
			DurableName: cfg.NATS.Durable,
			Unmarshaler: wmnats.GobMarshaler{},
			StanOptions: stanOptions,
		}, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		bus.publisher = pub
		bus.subscriber = sub
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := wmamaqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, err
		}
		sub, err := wmamaqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		bus.publisher = pub
		bus.subscriber = sub
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Driver)
	}

	for _, mirror := range cfg.Mirrors {
		name := strings.ToLower(strings.TrimSpace(mirror))
		if name == "" || name == driver {
			continue
		}
		pub, err := buildMirrorPublisher(cfg, name, logger)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		bus.mirrors[name] = pub
	}

	return bus, nil
}

func buildMirrorPublisher(cfg MessagingConfig, driver string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch driver {
	case "http":
		mode := strings.ToLower(cfg.HTTP.Mode)
		if mode != "topic_url" && mode != "base_url" {
			return nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if mode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, errors.New("http base_url is required for base_url mode")
		}
		return wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		return wmamaqp.NewPublisher(amqpCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported mirror driver: %s", driver)
	}
}

// Publish marshals the event and hands it to the primary driver and every
// mirror. A mirror failure does not fail the publish.
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", event.Name)
	msg.Metadata.Set("action", event.Action)
	msg.Metadata.Set("delivery_id", event.DeliveryID)
	msg.SetContext(ctx)

	var mirrorErr error
	for _, mirror := range b.mirrors {
		if err := mirror.Publish(topic, copyMessage(msg)); err != nil {
			mirrorErr = errors.Join(mirrorErr, err)
		}
	}
	if mirrorErr != nil {
		// Mirrors are best-effort; the primary path decides success.
		b.logger.Error("mirror publish failed", mirrorErr, nil)
	}
	return b.publisher.Publish(topic, msg)
}

// Subscribe exposes the primary driver's subscription channel.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, topic)
}

// Close shuts down the primary driver and all mirrors.
func (b *Bus) Close() error {
	var err error
	if b.publisher != nil {
		err = errors.Join(err, b.publisher.Close())
	}
	if b.subscriber != nil && !b.shared {
		err = errors.Join(err, b.subscriber.Close())
	}
	for _, mirror := range b.mirrors {
		err = errors.Join(err, mirror.Close())
	}
	return err
}

func copyMessage(msg *message.Message) *message.Message {
	dup := message.NewMessage(msg.UUID, msg.Payload)
	for key, value := range msg.Metadata {
		dup.Metadata.Set(key, value)
	}
	return dup
}

func amqpConfigFromMode(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
