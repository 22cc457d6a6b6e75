package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/autodialer/internal/domain"
	"github.com/acme/autodialer/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a campaign and its validation rejections in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign, rejected []domain.Rejection) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO campaigns (id, message, total_calls, created_at)
			VALUES (:id, :message, :total_calls, :created_at)`
		params := map[string]any{
			"id":          campaign.ID,
			"message":     campaign.Message,
			"total_calls": campaign.Total,
			"created_at":  campaign.CreatedAt,
		}
		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return fmt.Errorf("campaign repo: insert: %w", err)
		}

		for _, rej := range rejected {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_rejections (campaign_id, input, reason, created_at) VALUES ($1, $2, $3, $4)`,
				campaign.ID, rej.Input, rej.Reason, campaign.CreatedAt,
			); err != nil {
				return fmt.Errorf("campaign repo: insert rejection: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT id, message, total_calls, created_at FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// List returns campaigns in creation order, newest first.
func (r *CampaignRepository) List(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, message, total_calls, created_at FROM campaigns ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

type campaignRecord struct {
	ID         uuid.UUID    `db:"id"`
	Message    string       `db:"message"`
	TotalCalls int          `db:"total_calls"`
	CreatedAt  sql.NullTime `db:"created_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:      r.ID,
		Message: r.Message,
		Total:   r.TotalCalls,
	}
	if r.CreatedAt.Valid {
		campaign.CreatedAt = r.CreatedAt.Time.UTC()
	} else {
		campaign.CreatedAt = time.Time{}
	}
	return campaign
}
