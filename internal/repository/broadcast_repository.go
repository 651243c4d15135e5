package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/matchcast/backend/internal/database"
	"github.com/matchcast/backend/internal/models"
)

var ErrNotFound = errors.New("broadcast not found")

// BroadcastStore is the durable record store the lifecycle services depend on.
type BroadcastStore interface {
	Create(ctx context.Context, b *models.Broadcast) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	Save(ctx context.Context, b *models.Broadcast) error
	FindMany(ctx context.Context, filter models.BroadcastFilter) ([]models.Broadcast, error)
}

type BroadcastRepository struct {
	db *database.DB
}

func NewBroadcastRepository(db *database.DB) *BroadcastRepository {
	return &BroadcastRepository{db: db}
}

const broadcastColumns = `id, external_match_id, organization_id, stream_key, status, started_at, ended_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row rowScanner) (*models.Broadcast, error) {
	b := &models.Broadcast{}
	err := row.Scan(
		&b.ID,
		&b.ExternalMatchID,
		&b.OrganizationID,
		&b.StreamKey,
		&b.Status,
		&b.StartedAt,
		&b.EndedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BroadcastRepository) Create(ctx context.Context, b *models.Broadcast) error {
	query := `
		INSERT INTO broadcasts (` + broadcastColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		b.ID,
		b.ExternalMatchID,
		b.OrganizationID,
		b.StreamKey,
		b.Status,
		b.StartedAt,
		b.EndedAt,
		b.CreatedAt,
		b.UpdatedAt,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	return nil
}

func (r *BroadcastRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = $1`
	b, err := scanBroadcast(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}
	return b, nil
}

func (r *BroadcastRepository) FindByStreamKey(ctx context.Context, streamKey string) (*models.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE stream_key = $1`
	b, err := scanBroadcast(r.db.QueryRowContext(ctx, query, streamKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast by stream key: %w", err)
	}
	return b, nil
}

// Save writes the lifecycle columns of a single row. Concurrent saves are
// last-write-wins.
func (r *BroadcastRepository) Save(ctx context.Context, b *models.Broadcast) error {
	query := `
		UPDATE broadcasts
		SET status = $1, started_at = $2, ended_at = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query, b.Status, b.StartedAt, b.EndedAt, b.ID).Scan(&b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save broadcast: %w", err)
	}
	return nil
}

func (r *BroadcastRepository) FindMany(ctx context.Context, filter models.BroadcastFilter) ([]models.Broadcast, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		where = append(where, fmt.Sprintf("organization_id = $%d", len(args)))
	}

	query := `SELECT ` + broadcastColumns + ` FROM broadcasts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	out := []models.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	return out, nil
}
