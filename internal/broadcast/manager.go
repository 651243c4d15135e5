// Package broadcast implements the administrative side of the lifecycle:
// creating broadcasts with their credential and manual transitions.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/events"
	"github.com/matchcast/backend/internal/models"
	"github.com/matchcast/backend/internal/repository"
	"github.com/matchcast/backend/internal/streamkey"
	"github.com/rs/zerolog"
)

// Registry is the credential registry plus read-only inspection.
type Registry interface {
	cache.Registry
	Inspect(ctx context.Context, streamKey string) (cache.Activity, error)
}

type Options struct {
	CredentialTTL time.Duration
	Events        events.Publisher
	Now           func() time.Time
	NewKey        func() (string, error)
}

type Manager struct {
	broadcasts    repository.BroadcastStore
	registry      Registry
	events        events.Publisher
	credentialTTL time.Duration
	now           func() time.Time
	newKey        func() (string, error)
}

func NewManager(broadcasts repository.BroadcastStore, registry Registry, opts Options) *Manager {
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = cache.DefaultCredentialTTL
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewKey == nil {
		opts.NewKey = streamkey.New
	}
	return &Manager{
		broadcasts:    broadcasts,
		registry:      registry,
		events:        opts.Events,
		credentialTTL: opts.CredentialTTL,
		now:           opts.Now,
		newKey:        opts.NewKey,
	}
}

type CreateInput struct {
	ExternalMatchID string
	OrganizationID  string
}

func (in CreateInput) Validate() error {
	if in.ExternalMatchID == "" {
		return fmt.Errorf("external match id is required")
	}
	if in.OrganizationID == "" {
		return fmt.Errorf("organization id is required")
	}
	return nil
}

// ErrCredentialNotRegistered is returned by Create when the row was stored
// but the registry write failed. EnsureCredential recovers it.
var ErrCredentialNotRegistered = errors.New("broadcast created without registered credential")

// Create stores a Scheduled broadcast and registers its stream key.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Broadcast, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key, err := m.newKey()
	if err != nil {
		return nil, err
	}

	now := m.now()
	b := models.NewBroadcast(in.ExternalMatchID, in.OrganizationID, key, now)
	if err := m.broadcasts.Create(ctx, &b); err != nil {
		return nil, err
	}

	if err := m.registry.Register(ctx, b.ID, key, m.credentialTTL); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("broadcast_id", b.ID.String()).Msg("failed to register stream key")
		return &b, fmt.Errorf("%w: %w", ErrCredentialNotRegistered, err)
	}

	zerolog.Ctx(ctx).Info().Str("broadcast_id", b.ID.String()).Str("organization_id", b.OrganizationID).Msg("broadcast created")
	m.publish(ctx, events.FromBroadcast(events.BroadcastCreated, b, "", now))
	return &b, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	return m.broadcasts.FindByID(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter models.BroadcastFilter) ([]models.Broadcast, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return m.broadcasts.FindMany(ctx, filter)
}

// Cancel ends a broadcast that never went live and revokes its credential.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, err := m.broadcasts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now()
	cancelled, err := b.Cancel(now)
	if err != nil {
		return nil, err
	}
	if err := m.broadcasts.Save(ctx, &cancelled); err != nil {
		return nil, err
	}
	if err := m.registry.Revoke(ctx, cancelled.StreamKey); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("broadcast_id", id.String()).Msg("failed to revoke stream key")
	}

	zerolog.Ctx(ctx).Info().Str("broadcast_id", id.String()).Msg("broadcast cancelled")
	m.publish(ctx, events.FromBroadcast(events.BroadcastCancelled, cancelled, "manual", now))
	return &cancelled, nil
}

// End finishes a Live broadcast on operator request.
func (m *Manager) End(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, err := m.broadcasts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now()
	finished, err := b.Finish(now)
	if err != nil {
		return nil, err
	}
	if err := m.broadcasts.Save(ctx, &finished); err != nil {
		return nil, err
	}
	if err := m.registry.MarkInactive(ctx, finished.StreamKey); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("broadcast_id", id.String()).Msg("failed to clear activity flag")
	}

	zerolog.Ctx(ctx).Info().Str("broadcast_id", id.String()).Msg("broadcast ended manually")
	m.publish(ctx, events.FromBroadcast(events.BroadcastFinished, finished, "manual", now))
	return &finished, nil
}

// EnsureCredential re-registers the broadcast's existing key, for example
// after the registry entry expired before kick-off. Keys are never rotated.
func (m *Manager) EnsureCredential(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, err := m.broadcasts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HasEnded() {
		return nil, fmt.Errorf("%w: status is %s", models.ErrAlreadyEnded, b.Status)
	}
	if err := m.registry.Register(ctx, b.ID, b.StreamKey, m.credentialTTL); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Manager) Activity(ctx context.Context, id uuid.UUID) (cache.Activity, error) {
	b, err := m.broadcasts.FindByID(ctx, id)
	if err != nil {
		return cache.Activity{}, err
	}
	return m.registry.Inspect(ctx, b.StreamKey)
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	if err := m.events.Publish(ctx, e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(e.Type)).Msg("failed to publish lifecycle event")
	}
}
