package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/database"
	"github.com/matchcast/backend/internal/models"
)

var columns = []string{"id", "external_match_id", "organization_id", "stream_key", "status", "started_at", "ended_at", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*BroadcastRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBroadcastRepository(&database.DB{DB: db}), mock
}

func TestBroadcastRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	b := models.NewBroadcast("match-9", "org-1", "deadbeef", now)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO broadcasts")).
		WithArgs(b.ID, "match-9", "org-1", "deadbeef", models.StatusScheduled, nil, nil, now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(b.ID.String(), now, now))

	if err := repo.Create(context.Background(), &b); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBroadcastRepository_FindByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	started := time.Now().Add(-time.Hour).UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "match-1", "org-1", "k", "live", started, nil, started, started))

	b, err := repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b.Status != models.StatusLive {
		t.Errorf("Expected live, got %s", b.Status)
	}
	if b.StartedAt == nil || !b.StartedAt.Equal(started) {
		t.Errorf("Expected started_at %v, got %v", started, b.StartedAt)
	}
	if b.EndedAt != nil {
		t.Errorf("Expected nil ended_at, got %v", b.EndedAt)
	}
}

func TestBroadcastRepository_FindByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.FindByID(context.Background(), id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestBroadcastRepository_FindByID_StoreError(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id = $1")).
		WithArgs(id).
		WillReturnError(boom)

	_, err := repo.FindByID(context.Background(), id)
	if errors.Is(err, ErrNotFound) {
		t.Fatal("store errors must not be reported as not found")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped store error, got %v", err)
	}
}

func TestBroadcastRepository_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	b := models.NewBroadcast("m", "o", "k", now)
	live, _ := b.Start(now)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE broadcasts")).
		WithArgs(models.StatusLive, now, nil, b.ID).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	if err := repo.Save(context.Background(), &live); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBroadcastRepository_FindMany(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE status = ANY($1) AND organization_id = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs(sqlmock.AnyArg(), "org-1", 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.NewString(), "m1", "org-1", "k1", "live", now, nil, now, now).
			AddRow(uuid.NewString(), "m2", "org-1", "k2", "live", now, nil, now, now))

	out, err := repo.FindMany(context.Background(), models.BroadcastFilter{
		Statuses:       []models.BroadcastStatus{models.StatusLive},
		OrganizationID: "org-1",
		Limit:          10,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 broadcasts, got %d", len(out))
	}
}

func TestBroadcastRepository_FindMany_NoFilter(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM broadcasts ORDER BY created_at DESC$`).
		WillReturnRows(sqlmock.NewRows(columns))

	out, err := repo.FindMany(context.Background(), models.BroadcastFilter{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", out)
	}
}

func TestBroadcastRepository_FindByStreamKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE stream_key = $1")).
		WithArgs("cafebabe").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "match-1", "org-1", "cafebabe", "scheduled", nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE stream_key = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	b, err := repo.FindByStreamKey(context.Background(), "cafebabe")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b.ID != id || b.StreamKey != "cafebabe" {
		t.Errorf("unexpected broadcast %+v", b)
	}

	if _, err := repo.FindByStreamKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
