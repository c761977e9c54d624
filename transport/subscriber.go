// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/logger"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/metrics"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultDisconnectQuiet = 250 // milliseconds
	defaultEventsSize      = 256
	maxReconnectInterval   = time.Minute
)

// Options configures the MQTT subscriber
type Options struct {
	Broker     string // e.g. tcp://localhost:1883
	Topic      string
	ClientID   string
	Username   string
	Password   string
	QoS        byte
	KeepAlive  time.Duration
	EventsSize int
}

// Subscriber receives hub events from an MQTT broker and decodes them onto
// a buffered channel. Events that do not fit are dropped with a warning.
type Subscriber struct {
	opts      Options
	client    mqtt.Client
	events    chan Event
	mu        sync.RWMutex
	stopped   bool
	connected atomic.Bool
	now       func() time.Time
}

// NewSubscriber creates a subscriber; call Start to connect
func NewSubscriber(opts Options) *Subscriber {
	size := opts.EventsSize
	if size <= 0 {
		size = defaultEventsSize
	}
	return &Subscriber{
		opts:   opts,
		events: make(chan Event, size),
		now:    time.Now,
	}
}

// buildClientOptions maps Options onto paho client options. Subscriptions
// are made from the connect handler so they survive reconnects.
func (s *Subscriber) buildClientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.opts.Broker)
	opts.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		opts.SetUsername(s.opts.Username)
		opts.SetPassword(s.opts.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	if s.opts.KeepAlive > 0 {
		opts.SetKeepAlive(s.opts.KeepAlive)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.connected.Store(true)
		metrics.MQTTConnected.Set(1)
		logger.Info().Str("broker", s.opts.Broker).Str("topic", s.opts.Topic).Msg("Connected to MQTT broker")

		token := c.Subscribe(s.opts.Topic, s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			logger.Error().Err(token.Error()).Str("topic", s.opts.Topic).Msg("Failed to subscribe to hub events")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		metrics.MQTTConnected.Set(0)
		logger.Warn().Err(err).Str("broker", s.opts.Broker).Msg("MQTT connection lost, reconnecting")
	})

	return opts
}

// Start connects to the broker. The subscriber stops when ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.client = mqtt.NewClient(s.buildClientOptions())

	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		logger.Warn().Str("broker", s.opts.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return apperrors.NewTransportError("connect", s.opts.Broker, err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// handleMessage decodes one MQTT message and queues the event
func (s *Subscriber) handleMessage(topic string, payload []byte) {
	ev, err := DecodeEvent(topic, payload, s.now())
	if err != nil {
		metrics.EventDecodeErrors.Inc()
		logger.Warn().Err(err).Str("topic", topic).Int("bytes", len(payload)).Msg("Dropping undecodable hub message")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}

	select {
	case s.events <- ev:
		metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	default:
		logger.Warn().Str("hub_id", ev.HubID).Str("device_id", ev.DeviceID).
			Msg("Events channel full, dropping hub event")
	}
}

// Events returns the channel of decoded hub events
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// IsConnected reports whether the broker connection is up
func (s *Subscriber) IsConnected() bool {
	return s.connected.Load()
}

// Stop disconnects and closes the events channel. Safe to call repeatedly.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.events)
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(defaultDisconnectQuiet)
	}
	s.connected.Store(false)
	metrics.MQTTConnected.Set(0)
	logger.Info().Msg("MQTT subscriber stopped, events channel closed")
}

// String describes the subscription for logs
func (s *Subscriber) String() string {
	return fmt.Sprintf("mqtt(%s %s qos=%d)", s.opts.Broker, s.opts.Topic, s.opts.QoS)
}
