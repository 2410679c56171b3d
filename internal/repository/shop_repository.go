package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/models"
)

// ShopRepository handles tenant root reads. Shops are provisioned
// out-of-band; the core only ever reads them.
type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

func (r *ShopRepository) GetByID(ctx context.Context, shopID string) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching shop %s: %w", shopID, err)
	}
	return &shop, nil
}

func (r *ShopRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "api_key = ?", apiKey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching shop by api key: %w", err)
	}
	return &shop, nil
}

func (r *ShopRepository) GetByWAPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "wa_phone_number_id = ?", phoneNumberID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching shop by wa phone number id: %w", err)
	}
	return &shop, nil
}

// GetForUpdate row-locks the shop within an open transaction — part of the
// commit protocol's lock hierarchy (shop -> service -> reservations-of-day).
func (r *ShopRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, shopID string) (*models.Shop, error) {
	var shop models.Shop
	err := forUpdate(tx.WithContext(ctx)).First(&shop, "id = ?", shopID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("locking shop %s: %w", shopID, err)
	}
	return &shop, nil
}
