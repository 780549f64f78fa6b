// Package mqttclient subscribes to evaluation request topics and publishes
// replies. Requests and replies use QoS 1, so handlers must tolerate
// redelivery.
package mqttclient

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	qos            = 1
	publishTimeout = 10 * time.Second
	defaultTopic   = "wer/requests/#"

	statusOnline  = "online"
	statusOffline = "offline"
)

var errPublishTimeout = errors.New("mqtt publish timed out")

type MessageHandler func(topic string, payload []byte)

type Options struct {
	BrokerURL string
	ClientID  string
	// Topics is a comma-separated list of subscription filters.
	Topics   string
	Username string
	Password string
	// StatusTopic, when set, carries a retained "online" while connected
	// and "offline" as the last will.
	StatusTopic string
	Log         zerolog.Logger
}

type Client struct {
	conn    mqtt.Client
	filters map[string]byte
	status  string
	up      atomic.Bool
	handler atomic.Pointer[MessageHandler]
	log     zerolog.Logger
}

// Connect dials the broker and blocks until the first connection attempt
// completes. Subscriptions are renewed on every reconnect.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		filters: subscriptionFilters(parseTopics(opts.Topics)),
		status:  opts.StatusTopic,
		log:     opts.Log.With().Str("component", "mqtt").Logger(),
	}

	o := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)
	if c.status != "" {
		o.SetWill(c.status, statusOffline, qos, true)
	}

	c.conn = mqtt.NewClient(o)
	if t := c.conn.Connect(); t.Wait() && t.Error() != nil {
		return nil, t.Error()
	}
	return c, nil
}

// SetMessageHandler routes incoming messages to h. Messages arriving before
// a handler is set are dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

// Publish sends payload and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	t := c.conn.Publish(topic, qos, retained, payload)
	if !t.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return t.Error()
}

func (c *Client) onConnect(conn mqtt.Client) {
	c.up.Store(true)
	t := conn.SubscribeMultiple(c.filters, nil)
	t.Wait()
	if err := t.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
		return
	}
	c.log.Info().Int("filters", len(c.filters)).Msg("mqtt connected and subscribed")
	if c.status != "" {
		if err := c.publish(c.status, []byte(statusOnline), true); err != nil {
			c.log.Warn().Err(err).Str("topic", c.status).Msg("mqtt status publish failed")
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.up.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	h := c.handler.Load()
	if h == nil {
		c.log.Debug().Str("topic", msg.Topic()).Msg("mqtt message dropped, no handler")
		return
	}
	(*h)(msg.Topic(), msg.Payload())
}

func (c *Client) IsConnected() bool { return c.up.Load() }

// Close marks the client offline and disconnects, allowing one second for
// in-flight work.
func (c *Client) Close() {
	if c.status != "" && c.up.Load() {
		if err := c.publish(c.status, []byte(statusOffline), true); err != nil {
			c.log.Debug().Err(err).Msg("mqtt offline status not sent")
		}
	}
	c.conn.Disconnect(1000)
	c.up.Store(false)
	c.log.Info().Msg("mqtt disconnected")
}

func subscriptionFilters(topics []string) map[string]byte {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = qos
	}
	return filters
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{defaultTopic}
	}
	return topics
}
