package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/models"
)

type ServiceRepository struct {
	db *gorm.DB
}

func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

func (r *ServiceRepository) GetByID(ctx context.Context, serviceID string) (*models.Service, error) {
	var svc models.Service
	if err := r.db.WithContext(ctx).First(&svc, "id = ?", serviceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching service %s: %w", serviceID, err)
	}
	return &svc, nil
}

// ListActiveByShop returns a shop's bookable services in display order —
// the ordered list service selection (spec §4.1) is matched against.
func (r *ServiceRepository) ListActiveByShop(ctx context.Context, shopID string) ([]models.Service, error) {
	var services []models.Service
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND active = ?", shopID, true).
		Order("display_order asc, name asc").
		Find(&services).Error
	if err != nil {
		return nil, fmt.Errorf("listing services for shop %s: %w", shopID, err)
	}
	return services, nil
}

// GetForUpdate row-locks the service within the committer's open
// transaction.
func (r *ServiceRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, serviceID string) (*models.Service, error) {
	var svc models.Service
	err := forUpdate(tx.WithContext(ctx)).First(&svc, "id = ?", serviceID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("locking service %s: %w", serviceID, err)
	}
	return &svc, nil
}
