package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/metrics"
	"github.com/appshare1603/VanLive/internal/pipeline"
)

var ErrTopicMismatch = errors.New("mqtt: topic does not match subscription")

type Submitter interface {
	Submit(ctx context.Context, transport string, s domain.Sample) (pipeline.Accepted, error)
}

type SubscriberConfig struct {
	Topic string
	QoS   byte
	// ChannelSize bounds each worker's queue.
	ChannelSize int
	Workers     int
}

type inbound struct {
	vehicleID string
	payload   []byte
}

// Subscriber feeds telemetry topics into the ingestor. Each vehicle is pinned
// to one worker queue so its messages are submitted in arrival order. Broker
// callbacks never block: when a queue is full the message is dropped and counted.
type Subscriber struct {
	client   Client
	cfg      SubscriberConfig
	queues   []chan inbound
	ingestor Submitter
	logger   *slog.Logger
}

func NewSubscriber(client Client, cfg SubscriberConfig, ingestor Submitter, logger *slog.Logger) (*Subscriber, error) {
	if strings.Count(cfg.Topic, "+") != 1 || strings.Contains(cfg.Topic, "#") {
		return nil, fmt.Errorf("mqtt topic %q must contain exactly one + for the vehicle id", cfg.Topic)
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	queues := make([]chan inbound, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan inbound, cfg.ChannelSize)
	}
	return &Subscriber{
		client:   client,
		cfg:      cfg,
		queues:   queues,
		ingestor: ingestor,
		logger:   logger.With("component", "mqtt_subscriber", "topic", cfg.Topic),
	}, nil
}

// Run subscribes and drains messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	if token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, token.Error())
	}
	s.logger.Info("subscribed", "qos", s.cfg.QoS, "workers", s.cfg.Workers)

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, q)
		}()
	}
	<-ctx.Done()

	if token := s.client.Unsubscribe(s.cfg.Topic); token.Wait() && token.Error() != nil {
		s.logger.Warn("mqtt unsubscribe failed", "error", token.Error())
	}
	wg.Wait()
	return nil
}

func (s *Subscriber) onMessage(_ Client, msg Message) {
	vehicleID, err := VehicleFromTopic(s.cfg.Topic, msg.Topic())
	if err != nil {
		metrics.SamplesRejected.WithLabelValues(pipeline.TransportMQTT, "topic").Inc()
		s.logger.Warn("unexpected topic", "received", msg.Topic())
		return
	}
	select {
	case s.queues[s.workerFor(vehicleID)] <- inbound{vehicleID: vehicleID, payload: msg.Payload()}:
	default:
		metrics.MQTTChannelDrops.Inc()
	}
}

// workerFor maps a vehicle to a fixed queue.
func (s *Subscriber) workerFor(vehicleID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vehicleID))
	return int(h.Sum32() % uint32(len(s.queues)))
}

func (s *Subscriber) work(ctx context.Context, q <-chan inbound) {
	for {
		select {
		case msg := <-q:
			s.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg inbound) {
	var sample domain.Sample
	if err := json.Unmarshal(msg.payload, &sample); err != nil {
		metrics.SamplesRejected.WithLabelValues(pipeline.TransportMQTT, "decode").Inc()
		s.logger.Warn("invalid payload", "vehicle_id", msg.vehicleID, "error", err)
		return
	}
	// the topic is authoritative
	sample.VehicleID = msg.vehicleID

	// rejections are logged and counted by the ingestor
	_, _ = s.ingestor.Submit(ctx, pipeline.TransportMQTT, sample)
}

// VehicleFromTopic returns the segment of topic matched by the + in pattern.
func VehicleFromTopic(pattern, topic string) (string, error) {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", ErrTopicMismatch
	}
	vehicleID := ""
	for i, seg := range want {
		switch seg {
		case "+":
			vehicleID = got[i]
		default:
			if got[i] != seg {
				return "", ErrTopicMismatch
			}
		}
	}
	if strings.TrimSpace(vehicleID) == "" {
		return "", ErrTopicMismatch
	}
	return vehicleID, nil
}
