package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultCredentialTTL = 24 * time.Hour

// ErrRegistryUnavailable marks backing-store failures. It never means the
// credential is invalid.
var ErrRegistryUnavailable = errors.New("credential registry unavailable")

// Registry binds opaque stream keys to broadcast ids and tracks whether a
// publisher is currently connected under each key.
type Registry interface {
	Register(ctx context.Context, liveID uuid.UUID, streamKey string, ttl time.Duration) error
	Resolve(ctx context.Context, streamKey string) (uuid.UUID, bool, error)
	MarkActive(ctx context.Context, streamKey string) error
	IsActive(ctx context.Context, streamKey string) (bool, error)
	MarkInactive(ctx context.Context, streamKey string) error
	Revoke(ctx context.Context, streamKey string) error
}

// CredentialRegistry stores two keys per credential:
//
//	stream:key:<key>         -> broadcast id, expires after the credential TTL
//	stream:key:<key>:active  -> "1", expires no later than the mapping
type CredentialRegistry struct {
	client         *redis.Client
	defaultTTL     time.Duration
	activityMaxTTL time.Duration
}

type RegistryOptions struct {
	DefaultTTL     time.Duration
	ActivityMaxTTL time.Duration
}

func NewCredentialRegistry(rc *RedisClient, opts RegistryOptions) *CredentialRegistry {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultCredentialTTL
	}
	if opts.ActivityMaxTTL <= 0 {
		opts.ActivityMaxTTL = DefaultCredentialTTL
	}
	return &CredentialRegistry{
		client:         rc.GetClient(),
		defaultTTL:     opts.DefaultTTL,
		activityMaxTTL: opts.ActivityMaxTTL,
	}
}

func credentialKey(streamKey string) string {
	return fmt.Sprintf("stream:key:%s", streamKey)
}

func activityKey(streamKey string) string {
	return fmt.Sprintf("stream:key:%s:active", streamKey)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRegistryUnavailable, op, err)
}

// Register overwrites any previous mapping for streamKey.
func (r *CredentialRegistry) Register(ctx context.Context, liveID uuid.UUID, streamKey string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, credentialKey(streamKey), liveID.String(), ttl).Err(); err != nil {
		return unavailable("register", err)
	}
	return nil
}

// Resolve returns the broadcast id for streamKey. The bool is false when the
// key is unknown or expired.
func (r *CredentialRegistry) Resolve(ctx context.Context, streamKey string) (uuid.UUID, bool, error) {
	val, err := r.client.Get(ctx, credentialKey(streamKey)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, unavailable("resolve", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// not written by Register; treat as unknown
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// markActiveScript reads the mapping's remaining TTL and writes the flag in
// one step. A missing or non-expiring mapping falls back to ARGV[1]; the
// result is capped at ARGV[2].
const markActiveScript = `
local ttl = redis.call('PTTL', KEYS[1])
local fallback = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if ttl == nil or ttl <= 0 then ttl = fallback end
if ttl > cap then ttl = cap end
redis.call('SET', KEYS[2], '1', 'PX', ttl)
return ttl
`

func (r *CredentialRegistry) MarkActive(ctx context.Context, streamKey string) error {
	err := r.client.Eval(ctx, markActiveScript,
		[]string{credentialKey(streamKey), activityKey(streamKey)},
		r.defaultTTL.Milliseconds(), r.activityMaxTTL.Milliseconds(),
	).Err()
	if err != nil {
		return unavailable("mark active", err)
	}
	return nil
}

func (r *CredentialRegistry) IsActive(ctx context.Context, streamKey string) (bool, error) {
	n, err := r.client.Exists(ctx, activityKey(streamKey)).Result()
	if err != nil {
		return false, unavailable("is active", err)
	}
	return n > 0, nil
}

// MarkInactive clears only the activity flag; the credential keeps resolving.
func (r *CredentialRegistry) MarkInactive(ctx context.Context, streamKey string) error {
	if err := r.client.Del(ctx, activityKey(streamKey)).Err(); err != nil {
		return unavailable("mark inactive", err)
	}
	return nil
}

// Revoke deletes the mapping and its activity flag together.
func (r *CredentialRegistry) Revoke(ctx context.Context, streamKey string) error {
	if err := r.client.Del(ctx, credentialKey(streamKey), activityKey(streamKey)).Err(); err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

// Activity describes the registry state of one credential.
type Activity struct {
	Registered      bool  `json:"registered"`
	Active          bool  `json:"active"`
	CredentialTTLMs int64 `json:"credential_ttl_ms"`
	ActivityTTLMs   int64 `json:"activity_ttl_ms"`
}

// Inspect reports both keys' state with their remaining TTLs. go-redis
// returns the raw -2 (missing) and -1 (no expiry) replies unscaled.
func (r *CredentialRegistry) Inspect(ctx context.Context, streamKey string) (Activity, error) {
	pipe := r.client.Pipeline()
	credTTL := pipe.PTTL(ctx, credentialKey(streamKey))
	actTTL := pipe.PTTL(ctx, activityKey(streamKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return Activity{}, unavailable("inspect", err)
	}

	var a Activity
	switch d := credTTL.Val(); {
	case d == -1:
		a.Registered = true
	case d > 0:
		a.Registered = true
		a.CredentialTTLMs = d.Milliseconds()
	}
	switch d := actTTL.Val(); {
	case d == -1:
		a.Active = true
	case d > 0:
		a.Active = true
		a.ActivityTTLMs = d.Milliseconds()
	}
	return a, nil
}
