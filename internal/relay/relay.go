// Package relay bridges the hunt to an MQTT broker: it publishes status notices and the
// tag location set for stream overlays, and ingests contestant position batches.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
)

const (
	publishWait    = 2 * time.Second
	disconnectWait = 250
	ingestTimeout  = 10 * time.Second
)

// Options configure a broker connection.
type Options struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Logger      *slog.Logger
}

// IngestFunc receives each decoded position batch.
type IngestFunc func(ctx context.Context, contestants []model.Contestant) error

// Relay is an MQTT-backed huntsync.Display and position ingest.
type Relay struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
}

var _ huntsync.Display = (*Relay)(nil)

type statusPayload struct {
	Message   string              `json:"message"`
	Kind      huntsync.StatusKind `json:"kind"`
	Timestamp string              `json:"timestamp"`
}

// New builds a relay with a paho client for opts.Broker. Call Connect before use.
func New(opts Options) *Relay {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "huntsync-" + uuid.NewString()
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	clientOpts = clientOpts.SetOrderMatters(false)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", opts.Broker, "error", err)
	})

	return NewWithClient(mqtt.NewClient(clientOpts), opts.TopicPrefix, logger)
}

// NewWithClient wraps an existing client.
func NewWithClient(client mqtt.Client, prefix string, logger *slog.Logger) *Relay {
	if prefix == "" {
		prefix = "huntsync"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, prefix: prefix, logger: logger}
}

// StatusTopic carries status notices.
func (r *Relay) StatusTopic() string { return r.prefix + "/status" }

// LocationsTopic carries the retained tag location set.
func (r *Relay) LocationsTopic() string { return r.prefix + "/rfid/locations" }

// PositionsTopic is where clients publish contestant batches.
func (r *Relay) PositionsTopic() string { return r.prefix + "/positions" }

// Connect opens the broker connection.
func (r *Relay) Connect(ctx context.Context) error {
	if err := waitToken(ctx, r.client.Connect()); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	r.logger.Info("connected to mqtt broker", "prefix", r.prefix)
	return nil
}

// HasMarkers is always false; overlays render from the retained topic on their own.
func (r *Relay) HasMarkers() bool { return false }

// Redisplay publishes the full location set as a retained message.
func (r *Relay) Redisplay(locations []model.Location) {
	if locations == nil {
		locations = []model.Location{}
	}
	r.publish(r.LocationsTopic(), true, locations)
}

// Status publishes a status notice.
func (r *Relay) Status(msg string, kind huntsync.StatusKind) {
	r.publish(r.StatusTopic(), false, statusPayload{
		Message:   msg,
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Relay) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("failed to encode mqtt payload", "topic", topic, "error", err)
		return
	}

	token := r.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishWait) {
		r.logger.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		r.logger.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// IngestPositions subscribes to the positions topic and hands every decoded batch to
// ingest. Batches are processed until Close.
func (r *Relay) IngestPositions(ctx context.Context, ingest IngestFunc) error {
	topic := r.PositionsTopic()
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		contestants, err := DecodePositions(msg.Payload())
		if err != nil {
			r.logger.Warn("mqtt position payload decode failed", "topic", msg.Topic(), "error", err)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
		defer cancel()
		if err := ingest(callCtx, contestants); err != nil {
			r.logger.Error("failed to ingest positions", "topic", msg.Topic(), "count", len(contestants), "error", err)
			return
		}
		r.logger.Debug("ingested positions", "count", len(contestants))
	}

	if err := waitToken(ctx, r.client.Subscribe(topic, 1, handler)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	r.mu.Lock()
	r.subscribed = true
	r.mu.Unlock()

	r.logger.Info("ingesting contestant positions", "topic", topic)
	return nil
}

// DecodePositions parses a JSON array of contestant tuples.
func DecodePositions(payload []byte) ([]model.Contestant, error) {
	var contestants []model.Contestant
	if err := json.Unmarshal(payload, &contestants); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return contestants, nil
}

// Close unsubscribes and disconnects from the broker.
func (r *Relay) Close() error {
	r.mu.Lock()
	subscribed := r.subscribed
	r.subscribed = false
	r.mu.Unlock()

	var err error
	if subscribed {
		token := r.client.Unsubscribe(r.PositionsTopic())
		if token.WaitTimeout(publishWait) {
			err = token.Error()
		}
	}
	r.client.Disconnect(disconnectWait)
	return err
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
