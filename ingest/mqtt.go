package ingest

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lydianai/otoail.ailydian.com-sub005/domain"
)

// Options configures the MQTT ingest bridge.
type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
	Username  string
	Password  string
}

// Bridge subscribes to a telemetry topic and feeds each payload through
// the same message handler as a websocket frame, so MQTT-connected devices
// and websocket clients share one protocol path. Replies addressed to the
// bridge (acks, fan-out echoes) are discarded; MQTT devices are publishers
// here, not subscribers.
type Bridge struct {
	opts    Options
	relay   domain.Relay
	handler domain.MessageHandler
	conn    *bridgeConn
}

func New(opts Options, relay domain.Relay, handler domain.MessageHandler) *Bridge {
	return &Bridge{
		opts:    opts,
		relay:   relay,
		handler: handler,
		conn:    &bridgeConn{id: "mqtt-ingest:" + opts.ClientID},
	}
}

// Run connects with exponential backoff, consumes until the context is
// cancelled, then disconnects cleanly. Intended to run in its own
// goroutine.
func (b *Bridge) Run(ctx context.Context) {
	b.relay.Connect(b.conn)
	defer b.relay.Disconnect(b.conn)

	client := b.buildClient()
	if !b.connectWithBackoff(ctx, client, 2*time.Second, 30*time.Second) {
		return
	}

	<-ctx.Done()
	client.Disconnect(250)
	slog.Info("mqtt ingest stopped")
}

func (b *Bridge) buildClient() mqtt.Client {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		b.handler.Handle(b.conn, msg.Payload())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.opts.BrokerURL).
		SetClientID(b.opts.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	if b.opts.Username != "" {
		opts.SetUsername(b.opts.Username)
	}
	if b.opts.Password != "" {
		opts.SetPassword(b.opts.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connected", "broker", b.opts.BrokerURL)
		if token := c.Subscribe(b.opts.Topic, b.opts.QoS, onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt subscribe error", "topic", b.opts.Topic, "error", token.Error())
		} else {
			slog.Info("mqtt subscribed", "topic", b.opts.Topic, "qos", b.opts.QoS)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}

	return mqtt.NewClient(opts)
}

func (b *Bridge) connectWithBackoff(ctx context.Context, client mqtt.Client, start, max time.Duration) bool {
	backoff := start
	for {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			slog.Warn("mqtt connect error", "error", token.Error(), "retryIn", backoff)
			select {
			case <-time.After(backoff):
				if backoff < max {
					backoff *= 2
				}
			case <-ctx.Done():
				return false
			}
			continue
		}
		return true
	}
}

// bridgeConn satisfies domain.Connection for messages injected over MQTT.
type bridgeConn struct {
	id string
}

func (c *bridgeConn) ID() string             { return c.id }
func (c *bridgeConn) Send(data []byte) error { return nil }
func (c *bridgeConn) Close() error           { return nil }
