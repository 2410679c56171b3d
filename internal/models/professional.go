package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Professional is a staff member a reservation can be assigned to when the
// shop has staff selection enabled.
type Professional struct {
	ID           string `gorm:"type:uuid;primaryKey" json:"id"`
	ShopID       string `gorm:"type:uuid;index:idx_professional_shop_name,unique;not null" json:"shopId"`
	Name         string `gorm:"type:varchar(255);index:idx_professional_shop_name,unique;not null" json:"name"`
	Active       bool   `gorm:"not null;default:true" json:"active"`
	DisplayOrder int    `gorm:"not null;default:0" json:"displayOrder"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Professional) TableName() string { return "professionals" }

func (p *Professional) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
