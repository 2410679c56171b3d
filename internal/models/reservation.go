package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationStatus transitions only confirmed -> cancelled (I3); never
// the reverse.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation is the central ledger entry: a single committed booking of
// one service, at one shop, on one date and start time, for a customer
// identified by phone.
type Reservation struct {
	ID             string  `gorm:"type:uuid;primaryKey" json:"id"`
	ShopID         string  `gorm:"type:uuid;index:idx_res_shop_date;not null" json:"shopId"`
	ServiceID      string  `gorm:"type:uuid;not null" json:"serviceId"`
	ProfessionalID *string `gorm:"type:uuid;index" json:"professionalId,omitempty"`

	CustomerName  string `gorm:"type:varchar(255);not null" json:"customerName"`
	CustomerPhone string `gorm:"type:varchar(32);index;not null" json:"customerPhone"` // E.164

	Date            string            `gorm:"type:date;index:idx_res_shop_date;not null" json:"date"` // YYYY-MM-DD, shop TZ
	StartTime       string            `gorm:"type:varchar(8);not null" json:"startTime"`              // HH:MM, on the shop's slot grid
	DurationMinutes int               `gorm:"not null" json:"durationMinutes"`
	Status          ReservationStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	ExternalEventID *string `gorm:"type:varchar(255)" json:"externalEventId,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Reservation) TableName() string { return "reservations" }

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = ReservationConfirmed
	}
	return nil
}
