package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/sensation"
)

// MQTTSensor is an ingress pipe that subscribes to a set of MQTT topics and
// publishes one sensation per inbound message, the prior implementation's
// internal/mqtt/publisher.go connection setup (autopaho.ClientConfig,
// OnConnectionUp subscribing, AddOnPublishReceived dispatch) but reversed:
// the prior implementation publishes state outward, this sensor only consumes.
type MQTTSensor struct {
	Name       string
	BrokerURL  string
	ClientID   string
	Topics     []string
	KindPrefix string
	Bus        *bus.Bus
	Logger     *slog.Logger
}

// Listen dials the broker, subscribes to every configured topic, and
// publishes a sensation per received message until ctx is canceled.
func (s *MQTTSensor) Listen(ctx context.Context) error {
	logger := s.logger()

	brokerURL, err := url.Parse(s.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url %q: %w", s.BrokerURL, err)
	}

	clientID := s.ClientID
	if clientID == "" {
		clientID = "psyche-" + s.Name
	}

	cfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt sensor connected", "sensor", s.Name, "broker", s.BrokerURL)
			for _, topic := range s.Topics {
				if _, err := cm.Subscribe(ctx, &paho.Subscribe{
					Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 0}},
				}); err != nil {
					logger.Error("mqtt subscribe failed", "sensor", s.Name, "topic", topic, "err", err)
				}
			}
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt sensor connection error", "sensor", s.Name, "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt sensor %s connect: %w", s.Name, err)
	}

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		kind := s.KindPrefix + pr.Packet.Topic
		sens := sensation.Sensation{
			Kind:   kind,
			When:   time.Now().UTC(),
			What:   sensation.StringPayload(string(pr.Packet.Payload)),
			Source: "sensor:" + s.Name,
		}
		s.Bus.Publish(kind, sens)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtt sensor initial connection timed out, retrying in background", "sensor", s.Name, "err", err)
	}

	<-ctx.Done()
	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disconnectCancel()
	return cm.Disconnect(disconnectCtx)
}

func (s *MQTTSensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
