package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is a billable offering a shop's customers can book. Services
// belong to exactly one shop; a reservation references exactly one.
type Service struct {
	ID              string `gorm:"type:uuid;primaryKey" json:"id"`
	ShopID          string `gorm:"type:uuid;index;not null" json:"shopId"`
	Name            string `gorm:"type:varchar(255);not null" json:"name"`
	Description     string `gorm:"type:text" json:"description,omitempty"`
	PriceCents      int64  `gorm:"column:price_cents;not null;default:0" json:"priceCents"`
	DurationMinutes int    `gorm:"not null" json:"durationMinutes"`
	DisplayOrder    int    `gorm:"not null;default:0" json:"displayOrder"`
	Active          bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Service) TableName() string { return "services" }

func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
