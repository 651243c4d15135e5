// Package ingest decides publish callbacks from the media server and
// finalizes broadcasts when publishing stops.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/events"
	"github.com/matchcast/backend/internal/logging"
	"github.com/matchcast/backend/internal/repository"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidCredential            = errors.New("invalid stream credential")
	ErrBroadcastNotFound            = errors.New("broadcast not found")
	ErrBroadcastNotAcceptingStreams = errors.New("broadcast is not accepting streams")
)

// IsDenial reports whether err is one of the authorization denials, as
// opposed to an infrastructure failure.
func IsDenial(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrBroadcastNotFound) ||
		errors.Is(err, ErrBroadcastNotAcceptingStreams)
}

type Options struct {
	PathPrefix string
	Events     events.Publisher
	Now        func() time.Time
}

// Service is shared by every webhook request. It holds no per-request state;
// calls for the same stream key are assumed to be serialized by the media
// server.
type Service struct {
	broadcasts repository.BroadcastStore
	registry   cache.Registry
	events     events.Publisher
	pathPrefix string
	now        func() time.Time
}

func NewService(broadcasts repository.BroadcastStore, registry cache.Registry, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		broadcasts: broadcasts,
		registry:   registry,
		events:     opts.Events,
		pathPrefix: opts.PathPrefix,
		now:        opts.Now,
	}
}

// StreamKey extracts the credential from an ingest path using the configured
// prefix. It returns "" when the path carries no credential.
func (s *Service) StreamKey(path string) string {
	return ExtractStreamKey(path, s.pathPrefix)
}

// AuthorizePublish returns nil when the publisher may stream under the
// credential in path. Registry and store failures are returned as-is so the
// caller denies on uncertainty.
func (s *Service) AuthorizePublish(ctx context.Context, path string) error {
	log := zerolog.Ctx(ctx)

	key := s.StreamKey(path)
	if key == "" {
		return fmt.Errorf("%w: no credential in path", ErrInvalidCredential)
	}

	liveID, ok, err := s.registry.Resolve(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredential
	}

	b, err := s.broadcasts.FindByID(ctx, liveID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn().Str("broadcast_id", liveID.String()).Str("stream_key", logging.MaskKey(key)).Msg("credential resolves to missing broadcast")
		return ErrBroadcastNotFound
	}
	if err != nil {
		return err
	}

	if !b.AcceptsStreams() {
		log.Warn().Str("broadcast_id", b.ID.String()).Str("status", string(b.Status)).Msg("publish rejected")
		return fmt.Errorf("%w: status is %s", ErrBroadcastNotAcceptingStreams, b.Status)
	}

	if err := s.registry.MarkActive(ctx, key); err != nil {
		return err
	}

	if b.IsLive() {
		log.Info().Str("broadcast_id", b.ID.String()).Msg("publisher reconnected")
		return nil
	}

	now := s.now()
	live, err := b.Start(now)
	if err != nil {
		return err
	}
	if err := s.broadcasts.Save(ctx, &live); err != nil {
		return err
	}

	log.Info().Str("broadcast_id", live.ID.String()).Str("stream_key", logging.MaskKey(key)).Msg("broadcast started")
	s.publish(ctx, events.FromBroadcast(events.BroadcastStarted, live, "publish", now))
	return nil
}

// CompletionOutcome names what CompletePublish did.
type CompletionOutcome string

const (
	CompletionNoCredential      CompletionOutcome = "no_credential"
	CompletionUnknownCredential CompletionOutcome = "unknown_credential"
	CompletionBroadcastMissing  CompletionOutcome = "broadcast_missing"
	CompletionNotLive           CompletionOutcome = "not_live"
	CompletionFinished          CompletionOutcome = "finished"
	CompletionFailed            CompletionOutcome = "failed"
)

// CompletePublish handles the stop callback. It never fails; problems are
// logged and left for the reaper.
func (s *Service) CompletePublish(ctx context.Context, path string) CompletionOutcome {
	log := zerolog.Ctx(ctx)

	key := s.StreamKey(path)
	if key == "" {
		log.Warn().Str("path", path).Msg("publish done without credential")
		return CompletionNoCredential
	}
	keyLog := log.With().Str("stream_key", logging.MaskKey(key)).Logger()

	liveID, ok, err := s.registry.Resolve(ctx, key)
	if err != nil {
		keyLog.Error().Err(err).Msg("failed to resolve credential on publish done")
		return CompletionFailed
	}
	if !ok {
		keyLog.Info().Msg("publish done for unknown credential")
		return CompletionUnknownCredential
	}

	if err := s.registry.MarkInactive(ctx, key); err != nil {
		keyLog.Error().Err(err).Msg("failed to clear activity flag")
	}

	b, err := s.broadcasts.FindByID(ctx, liveID)
	if errors.Is(err, repository.ErrNotFound) {
		keyLog.Warn().Str("broadcast_id", liveID.String()).Msg("publish done for missing broadcast")
		return CompletionBroadcastMissing
	}
	if err != nil {
		keyLog.Error().Err(err).Str("broadcast_id", liveID.String()).Msg("failed to load broadcast on publish done")
		return CompletionFailed
	}

	if !b.IsLive() {
		keyLog.Info().Str("broadcast_id", b.ID.String()).Str("status", string(b.Status)).Msg("broadcast already finalized")
		return CompletionNotLive
	}

	now := s.now()
	finished, err := b.Finish(now)
	if err != nil {
		keyLog.Error().Err(err).Str("broadcast_id", b.ID.String()).Msg("failed to finish broadcast")
		return CompletionFailed
	}
	if err := s.broadcasts.Save(ctx, &finished); err != nil {
		keyLog.Error().Err(err).Str("broadcast_id", b.ID.String()).Msg("failed to save finished broadcast")
		return CompletionFailed
	}

	keyLog.Info().Str("broadcast_id", finished.ID.String()).Msg("broadcast finished")
	s.publish(ctx, events.FromBroadcast(events.BroadcastFinished, finished, "publish_done", now))
	return CompletionFinished
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(e.Type)).Str("broadcast_id", e.BroadcastID.String()).Msg("failed to publish lifecycle event")
	}
}
