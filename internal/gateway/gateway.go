package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/infrastructure/mqtt"
)

// Broker is the slice of the MQTT client the gateway needs. Satisfied by
// *mqtt.Client; tests substitute an in-memory fake.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// statePayload is the wire format of confirmed state updates from gateways.
type statePayload struct {
	Fields    entity.State `json:"fields"`
	Timestamp time.Time    `json:"timestamp"`
}

// availabilityPayload is the wire format of device reachability updates.
type availabilityPayload struct {
	Available bool `json:"available"`
}

// Gateway connects the entity registry to the device bus over MQTT.
//
// Inbound, it observes every state and availability topic and feeds the
// registry: updates triggered by our own commands and updates caused by
// physical switches or other controllers flow through the same path, so
// the registry stays authoritative either way. Outbound, it publishes
// command payloads to the per-entity command topic.
type Gateway struct {
	broker   Broker
	registry *entity.Registry
	qos      byte
	logger   Logger
}

// New creates a gateway over the broker and registry.
func New(broker Broker, registry *entity.Registry, qos byte) *Gateway {
	return &Gateway{
		broker:   broker,
		registry: registry,
		qos:      qos,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// Start subscribes to the state and availability wildcards. Handlers run
// until the MQTT client disconnects; Start itself does not block.
func (g *Gateway) Start(ctx context.Context) error {
	topics := mqtt.Topics{}

	if err := g.broker.Subscribe(topics.AllEntityStates(), g.qos, func(topic string, payload []byte) error {
		return g.handleState(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to state topics: %w", err)
	}

	if err := g.broker.Subscribe(topics.AllEntityAvailability(), g.qos, func(topic string, payload []byte) error {
		return g.handleAvailability(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to availability topics: %w", err)
	}

	g.logger.Info("gateway subscriptions established")
	return nil
}

// PublishCommand publishes a command payload to the entity's command topic.
// Implements the dispatcher's Publisher interface.
func (g *Gateway) PublishCommand(_ context.Context, protocol, entityID string, payload []byte) error {
	topic := mqtt.Topics{}.EntityCommand(protocol, entityID)
	return g.broker.Publish(topic, payload, g.qos, false)
}

// handleState applies a confirmed state update from the bus.
func (g *Gateway) handleState(ctx context.Context, topic string, payload []byte) error {
	_, entityID, ok := mqtt.ParseEntityTopic(topic)
	if !ok {
		return fmt.Errorf("unparseable state topic %q", topic)
	}

	var p statePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding state payload on %q: %w", topic, err)
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("state payload on %q has no fields", topic)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	err := g.registry.ApplyConfirmedUpdate(ctx, entityID, p.Fields, ts)
	if errors.Is(err, entity.ErrNotFound) {
		// State for an entity we don't manage. Common during commissioning.
		g.logger.Debug("state update for unknown entity", "entity_id", entityID)
		return nil
	}
	return err
}

// handleAvailability applies a device reachability update from the bus.
func (g *Gateway) handleAvailability(ctx context.Context, topic string, payload []byte) error {
	_, entityID, ok := mqtt.ParseEntityTopic(topic)
	if !ok {
		return fmt.Errorf("unparseable availability topic %q", topic)
	}

	var p availabilityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding availability payload on %q: %w", topic, err)
	}

	err := g.registry.SetAvailability(ctx, entityID, p.Available)
	if errors.Is(err, entity.ErrNotFound) {
		g.logger.Debug("availability update for unknown entity", "entity_id", entityID)
		return nil
	}
	return err
}
