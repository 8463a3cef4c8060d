package command

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/notify"
)

// Publisher sends a command payload onto the device bus.
type Publisher interface {
	PublishCommand(ctx context.Context, protocol, entityID string, payload []byte) error
}

// commandPayload is the wire format published to the bus.
type commandPayload struct {
	EntityID    string         `json:"entity_id"`
	Command     Kind           `json:"command"`
	Fields      entity.State   `json:"fields"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// BusExecutor executes commands over the device bus: it publishes the
// desired state and blocks until the registry confirms the transition or
// the context expires.
//
// Confirmation is observed through the notifier rather than a bus reply
// topic, so it works identically whether the device answers the command
// directly or the change is picked up by passive observation.
type BusExecutor struct {
	publisher Publisher
	notifier  *notify.Notifier
}

// NewBusExecutor creates a bus-backed executor.
func NewBusExecutor(publisher Publisher, notifier *notify.Notifier) *BusExecutor {
	return &BusExecutor{publisher: publisher, notifier: notifier}
}

// Execute publishes the command and waits for a confirmed update that
// reaches the command's target state. Returns ctx.Err() when the device
// does not confirm before the deadline.
func (e *BusExecutor) Execute(ctx context.Context, ent *entity.Entity, cmd Command) error {
	target := TargetState(ent, cmd)

	// Subscribe before publishing so a fast confirmation cannot slip
	// between publish and subscribe.
	sub := e.notifier.Subscribe()
	if sub == nil {
		return fmt.Errorf("notifier closed")
	}
	defer sub.Cancel()

	payload, err := json.Marshal(commandPayload{
		EntityID:    ent.ID,
		Command:     cmd.Kind,
		Fields:      target,
		Parameters:  cmd.Parameters,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding command payload: %w", err)
	}

	if err := e.publisher.PublishCommand(ctx, string(ent.Protocol), ent.ID, payload); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}

	for {
		select {
		case u, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("notifier closed")
			}
			if u.EntityID == ent.ID && reachesTarget(u.Fields, target) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reachesTarget reports whether a confirmed update covers every field of
// the command's target state with matching values.
func reachesTarget(confirmed, target entity.State) bool {
	for k, want := range target {
		got, ok := confirmed[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares state values, tolerating the int/float64 split
// that JSON decoding introduces.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LoopbackExecutor applies commands directly to the registry as if the
// device confirmed instantly. Used in development mode and tests, where
// no bus is attached.
type LoopbackExecutor struct {
	registry *entity.Registry

	// Delay simulates device latency before confirmation.
	Delay time.Duration
}

// NewLoopbackExecutor creates a loopback executor over the registry.
func NewLoopbackExecutor(registry *entity.Registry) *LoopbackExecutor {
	return &LoopbackExecutor{registry: registry}
}

// Execute applies the command's target state as a confirmed update.
func (e *LoopbackExecutor) Execute(ctx context.Context, ent *entity.Entity, cmd Command) error {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	target := TargetState(ent, cmd)
	return e.registry.ApplyConfirmedUpdate(ctx, ent.ID, target, time.Now().UTC())
}
