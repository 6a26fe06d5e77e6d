package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bus")

// QoS is the delivery level requested for every subscription: exactly once.
const QoS byte = 2

// Handler receives every message delivered on a subscribed topic. It must
// return quickly; long running work belongs on another goroutine.
type Handler func(topic string, payload []byte) error

type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
	Topics   []string
}

// Subscriber keeps an MQTT session open and resubscribes after every
// reconnect.
type Subscriber struct {
	cfg     Config
	handler Handler
	client  mqtt.Client
}

func NewSubscriber(cfg Config, handler Handler) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("missing broker address")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("no topics to subscribe to")
	}
	s := &Subscriber{cfg: cfg, handler: handler}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("connection lost: %s", err)
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			log.Info("reconnecting")
		})
	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Filters returns the subscription filters, all at QoS 2.
func (s *Subscriber) Filters() map[string]byte {
	filters := make(map[string]byte, len(s.cfg.Topics))
	for _, t := range s.cfg.Topics {
		filters[t] = QoS
	}
	return filters
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	log.Infof("connected to %s, subscribing to %v", s.cfg.Broker, s.cfg.Topics)
	token := c.SubscribeMultiple(s.Filters(), s.onMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Errorf("subscribing: %s", err)
		}
	}()
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handler(msg.Topic(), msg.Payload()); err != nil {
		log.Warnf("handling message on %s: %s", msg.Topic(), err)
	}
}

// Run connects and blocks until ctx is done, then disconnects.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-ctx.Done():
		s.client.Disconnect(250)
		return nil
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.Broker, err)
	}
	<-ctx.Done()
	log.Info("disconnecting")
	s.client.Disconnect(250)
	return nil
}
