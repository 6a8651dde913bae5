package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore persists billing state through a gorm handle.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertCatalogRecord inserts or replaces the catalog row for the
// provider id.
func (s *PostgresStore) UpsertCatalogRecord(ctx context.Context, rec CatalogRecord) error {
	rec.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "payload", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert catalog %s: %w", rec.ProviderID, err)
	}
	return nil
}

// UpsertSubscription inserts or updates the subscription row and reports
// whether it was newly created.
func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub SubscriptionStatus) (bool, error) {
	sub.UpdatedAt = time.Now()

	var existing SubscriptionStatus
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", sub.SubscriptionID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
			return false, fmt.Errorf("create subscription %s: %w", sub.SubscriptionID, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup subscription %s: %w", sub.SubscriptionID, err)
	default:
		err := s.db.WithContext(ctx).
			Model(&SubscriptionStatus{}).
			Where("subscription_id = ?", sub.SubscriptionID).
			Updates(map[string]any{
				"customer_id": sub.CustomerID,
				"status":      sub.Status,
				"updated_at":  sub.UpdatedAt,
			}).Error
		if err != nil {
			return false, fmt.Errorf("update subscription %s: %w", sub.SubscriptionID, err)
		}
		return false, nil
	}
}
