package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/models"
)

type ProfessionalRepository struct {
	db *gorm.DB
}

func NewProfessionalRepository(db *gorm.DB) *ProfessionalRepository {
	return &ProfessionalRepository{db: db}
}

func (r *ProfessionalRepository) GetByID(ctx context.Context, professionalID string) (*models.Professional, error) {
	var p models.Professional
	if err := r.db.WithContext(ctx).First(&p, "id = ?", professionalID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching professional %s: %w", professionalID, err)
	}
	return &p, nil
}

// ListActiveByShop returns a shop's staff roster in display order, for the
// pick_staff dialogue step.
func (r *ProfessionalRepository) ListActiveByShop(ctx context.Context, shopID string) ([]models.Professional, error) {
	var professionals []models.Professional
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND active = ?", shopID, true).
		Order("display_order asc, name asc").
		Find(&professionals).Error
	if err != nil {
		return nil, fmt.Errorf("listing professionals for shop %s: %w", shopID, err)
	}
	return professionals, nil
}
