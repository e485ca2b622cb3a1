// Package transport adapts an MQTT v5 session to the boolean-outcome
// contract the session machine drives. The machine never sees an error
// value or a paho type: every operation reports bare success or
// failure, causes go to the log, and inbound payloads cross into the
// machine's execution context through a bounded channel.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/wire"
)

// Config carries the broker session parameters.
type Config struct {
	// BrokerURL is the broker endpoint, mqtt:// or mqtts://.
	BrokerURL string
	// ClientID identifies this node to the broker.
	ClientID string
	// Username and Password are optional broker credentials.
	Username string
	Password string

	// KeepAlive is the MQTT keepalive in seconds.
	KeepAlive uint16
	// ConnectTimeout bounds each Connect call's wait for the session
	// to come up.
	ConnectTimeout time.Duration
	// OpTimeout bounds individual publish and subscribe exchanges.
	OpTimeout time.Duration
	// InboxSize caps the inbound payload queue. Arrivals beyond the
	// cap are dropped, never blocked on.
	InboxSize int
}

func (c *Config) applyDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 8
	}
}

// Client is a session.Transport over an autopaho connection manager.
// Connect, Subscribe, Publish, and Drop are called from the machine's
// single execution context; IsAlive and the inbound router are touched
// from paho's goroutines, so the shared pieces are a mutex and an
// atomic flag.
type Client struct {
	cfg Config
	log *slog.Logger
	bus *events.Bus

	inbox   chan []byte
	dropped atomic.Int64

	alive atomic.Bool

	mu   sync.Mutex
	cm   *autopaho.ConnectionManager
	subs []string
}

// New builds a client. No connection is attempted until Connect.
func New(cfg Config, log *slog.Logger, bus *events.Bus) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		inbox: make(chan []byte, cfg.InboxSize),
	}
}

// Connect brings the broker session up, building a new connection
// manager if the previous one was dropped, and waits bounded time for
// the session to establish. It reports false on any failure so the
// recovery supervisor can count the attempt.
func (c *Client) Connect(ctx context.Context) bool {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		built, err := c.start(ctx)
		if err != nil {
			c.log.Warn("broker session setup failed", "error", err)
			return false
		}
		c.mu.Lock()
		c.cm = built
		c.mu.Unlock()
		cm = built
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(waitCtx); err != nil {
		c.log.Warn("broker session did not come up", "broker", c.cfg.BrokerURL, "error", err)
		return false
	}
	return true
}

func (c *Client) start(ctx context.Context) (*autopaho.ConnectionManager, error) {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       c.cfg.KeepAlive,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.alive.Store(true)
			c.log.Info("broker session up", "broker", c.cfg.BrokerURL)
			c.publishEvent(events.KindConnUp, nil)
			c.restoreSubscriptions(cm)
		},
		OnConnectError: func(err error) {
			c.log.Warn("broker connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.deliver(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.alive.Store(false)
				c.log.Warn("broker session lost", "error", err)
				c.publishEvent(events.KindConnDown, map[string]any{"error": err.Error()})
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.alive.Store(false)
				c.log.Warn("broker disconnected us", "reason_code", d.ReasonCode)
				c.publishEvent(events.KindConnDown, map[string]any{"reason_code": int(d.ReasonCode)})
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return autopaho.NewConnection(ctx, pahoCfg)
}

// restoreSubscriptions replays the tracked subscriptions after a
// session comes up, so the machine's view that a subscription outlives
// drops and reconnects holds.
func (c *Client) restoreSubscriptions(cm *autopaho.ConnectionManager) {
	c.mu.Lock()
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, topic := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		})
		cancel()
		if err != nil {
			c.log.Warn("resubscribe failed", "topic", topic, "error", err)
			continue
		}
		c.log.Debug("resubscribed", "topic", topic)
	}
}

// Subscribe registers interest in a topic at QoS 1 and remembers it so
// reconnects restore it.
func (c *Client) Subscribe(topic string) bool {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	})
	if err != nil {
		c.log.Warn("subscribe failed", "topic", topic, "error", err)
		return false
	}

	c.mu.Lock()
	if !slices.Contains(c.subs, topic) {
		c.subs = append(c.subs, topic)
	}
	c.mu.Unlock()
	return true
}

// Publish sends one payload. Reports are fire-and-forget at QoS 0;
// everything else (the announcement) goes at QoS 1.
func (c *Client) Publish(topic string, payload []byte) bool {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qosFor(topic),
	})
	if err != nil {
		c.log.Warn("publish failed", "topic", topic, "bytes", len(payload), "error", err)
		return false
	}
	return true
}

func qosFor(topic string) byte {
	if topic == wire.TopicData {
		return 0
	}
	return 1
}

// IsAlive reports whether the broker session is currently up.
func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

// Drop tears the broker session down so the next Connect builds a
// fresh one. Tracked subscriptions survive and are replayed when the
// new session comes up.
func (c *Client) Drop() {
	c.mu.Lock()
	cm := c.cm
	c.cm = nil
	c.mu.Unlock()
	c.alive.Store(false)

	if cm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		defer cancel()
		if err := cm.Disconnect(ctx); err != nil {
			c.log.Debug("disconnect on drop", "error", err)
		}
	}

	c.log.Info("broker session dropped")
	c.publishEvent(events.KindConnDropped, nil)
}

// Inbox exposes the inbound payload queue.
func (c *Client) Inbox() <-chan []byte {
	return c.inbox
}

// Dropped reports how many inbound payloads were discarded because the
// inbox was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Close shuts the session down for process exit. Unlike Drop it is
// final; no reconnect follows.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	cm := c.cm
	c.cm = nil
	c.mu.Unlock()
	c.alive.Store(false)

	if cm == nil {
		return
	}
	if err := cm.Disconnect(ctx); err != nil {
		c.log.Debug("disconnect on close", "error", err)
	}
}

// deliver queues one inbound payload, copying it out of paho's buffer.
// A full inbox drops the payload rather than blocking paho's router.
func (c *Client) deliver(topic string, payload []byte) {
	p := append([]byte(nil), payload...)
	select {
	case c.inbox <- p:
		c.log.Debug("payload queued", "topic", topic, "bytes", len(p))
	default:
		c.dropped.Add(1)
		c.log.Warn("inbox full, payload dropped", "topic", topic, "bytes", len(p))
	}
}

func (c *Client) publishEvent(kind string, data map[string]any) {
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTransport,
		Kind:      kind,
		Data:      data,
	})
}
