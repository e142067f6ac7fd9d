package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is the subset of an MQTT client the ingestion path needs.
type Client interface {
	Subscribe(topic string, qos byte, callback MessageHandler) Token
	Unsubscribe(topics ...string) Token
	Disconnect()
}

type Token interface {
	Wait() bool
	Error() error
}

type Message interface {
	Topic() string
	Payload() []byte
}

type MessageHandler func(Client, Message)

type client struct {
	client pahomqtt.Client
	id     string
}

// NewClient connects to the broker. The session is persistent so the
// broker keeps our subscriptions across automatic reconnects.
func NewClient(cfg Config, logger *slog.Logger) (Client, error) {
	log := logger.With("component", "mqtt", "broker", cfg.Broker)
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetAutoReconnect(true).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetConnectTimeout(cfg.Timeout).
		SetOnConnectHandler(func(pahomqtt.Client) {
			log.Info("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	c := pahomqtt.NewClient(opts)

	log.Info("connecting to mqtt broker")
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return &client{client: c, id: cfg.ClientID}, nil
}

func (c *client) Subscribe(topic string, qos byte, callback MessageHandler) Token {
	return &token{c.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		callback(c, &message{msg: msg})
	})}
}

func (c *client) Unsubscribe(topics ...string) Token {
	return &token{c.client.Unsubscribe(topics...)}
}

func (c *client) Disconnect() {
	c.client.Disconnect(250)
}

type token struct {
	token pahomqtt.Token
}

func (t *token) Wait() bool {
	return t.token.Wait()
}

func (t *token) Error() error {
	return t.token.Error()
}

type message struct {
	msg pahomqtt.Message
}

func (m *message) Topic() string {
	return m.msg.Topic()
}

func (m *message) Payload() []byte {
	return m.msg.Payload()
}
