package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BroadcastStatus string

const (
	StatusScheduled BroadcastStatus = "scheduled"
	StatusLive      BroadcastStatus = "live"
	StatusFinished  BroadcastStatus = "finished"
	StatusCancelled BroadcastStatus = "cancelled"
)

// ParseBroadcastStatus accepts any of the four persisted status values.
func ParseBroadcastStatus(s string) (BroadcastStatus, error) {
	switch st := BroadcastStatus(s); st {
	case StatusScheduled, StatusLive, StatusFinished, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown broadcast status %q", s)
}

func (s BroadcastStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid broadcast transition")
	ErrAlreadyEnded      = errors.New("broadcast already ended")
)

// TransitionError reports a requested edge that the lifecycle does not have.
type TransitionError struct {
	From BroadcastStatus
	To   BroadcastStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid broadcast transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type Broadcast struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	ExternalMatchID string          `json:"external_match_id" db:"external_match_id"`
	OrganizationID  string          `json:"organization_id" db:"organization_id"`
	StreamKey       string          `json:"-" db:"stream_key"`
	Status          BroadcastStatus `json:"status" db:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

func NewBroadcast(externalMatchID, organizationID, streamKey string, now time.Time) Broadcast {
	return Broadcast{
		ID:              uuid.New(),
		ExternalMatchID: externalMatchID,
		OrganizationID:  organizationID,
		StreamKey:       streamKey,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Lifecycle transitions. Each returns a new value and never mutates the
// receiver, so a failed transition leaves the caller's copy untouched.

// Start moves a Scheduled broadcast to Live.
func (b Broadcast) Start(at time.Time) (Broadcast, error) {
	if b.HasEnded() {
		return b, fmt.Errorf("%w: status is %s", ErrAlreadyEnded, b.Status)
	}
	if !b.IsScheduled() {
		return b, &TransitionError{From: b.Status, To: StatusLive}
	}
	b.Status = StatusLive
	b.StartedAt = &at
	b.UpdatedAt = at
	return b, nil
}

// Finish moves a Live broadcast to Finished.
func (b Broadcast) Finish(at time.Time) (Broadcast, error) {
	if !b.IsLive() {
		return b, &TransitionError{From: b.Status, To: StatusFinished}
	}
	b.Status = StatusFinished
	b.EndedAt = &at
	b.UpdatedAt = at
	return b, nil
}

// Cancel moves a Scheduled broadcast to Cancelled.
func (b Broadcast) Cancel(at time.Time) (Broadcast, error) {
	if !b.IsScheduled() {
		return b, &TransitionError{From: b.Status, To: StatusCancelled}
	}
	b.Status = StatusCancelled
	b.EndedAt = &at
	b.UpdatedAt = at
	return b, nil
}

func (b Broadcast) IsLive() bool      { return b.Status == StatusLive }
func (b Broadcast) IsScheduled() bool { return b.Status == StatusScheduled }
func (b Broadcast) HasEnded() bool    { return b.Status.Terminal() }

// AcceptsStreams is true for the two states a publish callback may target:
// Scheduled (first publish) and Live (reconnect).
func (b Broadcast) AcceptsStreams() bool {
	return b.IsScheduled() || b.IsLive()
}

type CreateBroadcastRequest struct {
	ExternalMatchID string `json:"external_match_id" binding:"required"`
	OrganizationID  string `json:"organization_id" binding:"required"`
}

// BroadcastFilter narrows FindMany. Zero values mean no restriction.
type BroadcastFilter struct {
	Statuses       []BroadcastStatus
	OrganizationID string
	Limit          int
}
