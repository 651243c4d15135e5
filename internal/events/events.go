// Package events publishes broadcast lifecycle changes to downstream
// consumers: the live status feed and the notification fan-out.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/models"
)

type Type string

const (
	BroadcastCreated   Type = "broadcast.created"
	BroadcastStarted   Type = "broadcast.started"
	BroadcastFinished  Type = "broadcast.finished"
	BroadcastCancelled Type = "broadcast.cancelled"
)

type Event struct {
	ID              uuid.UUID              `json:"id"`
	Type            Type                   `json:"type"`
	BroadcastID     uuid.UUID              `json:"broadcast_id"`
	OrganizationID  string                 `json:"organization_id"`
	ExternalMatchID string                 `json:"external_match_id"`
	Status          models.BroadcastStatus `json:"status"`
	Reason          string                 `json:"reason,omitempty"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

// FromBroadcast builds an event describing b's current state.
func FromBroadcast(t Type, b models.Broadcast, reason string, at time.Time) Event {
	return Event{
		ID:              uuid.New(),
		Type:            t,
		BroadcastID:     b.ID,
		OrganizationID:  b.OrganizationID,
		ExternalMatchID: b.ExternalMatchID,
		Status:          b.Status,
		Reason:          reason,
		OccurredAt:      at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi delivers to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
