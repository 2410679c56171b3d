package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkingInterval is one HH:MM-HH:MM open interval within a day.
type WorkingInterval struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// WorkingHours maps an ISO weekday abbreviation (mon..sun) to its ordered
// working intervals. A missing weekday means the shop is closed that day.
type WorkingHours map[string][]WorkingInterval

// Weekday abbreviations in canonical order, used throughout the
// availability computation to index into WorkingHours.
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// WeekdayOf returns the mon..sun key for t's weekday.
func WeekdayOf(t time.Time) string {
	return Weekdays[(int(t.Weekday())+6)%7]
}

// Shop is the tenant root: one service business with its own staff,
// services, working hours, calendar and messaging credentials.
type Shop struct {
	ID            string `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string `gorm:"type:varchar(255);not null" json:"name"`
	BusinessType  string `gorm:"type:varchar(100)" json:"businessType"`
	CountryCode   string `gorm:"type:varchar(4);not null;default:'ES'" json:"countryCode"`
	TZ            string `gorm:"type:varchar(64);not null;default:'Europe/Madrid'" json:"tz"`
	CurrencyCode  string `gorm:"type:varchar(8);not null;default:'EUR'" json:"currencyCode"`
	ContactPhone  string `gorm:"type:varchar(32)" json:"contactPhone"`
	Address       string `gorm:"type:varchar(512)" json:"address"`

	NumStaff int `gorm:"not null;default:1" json:"numStaff"`

	SlotStepMinutes int `gorm:"not null;default:30" json:"slotStepMinutes"`
	MinLeadMinutes  int `gorm:"not null;default:60" json:"minLeadMinutes"`
	MaxLeadDays     int `gorm:"not null;default:150" json:"maxLeadDays"`

	// Structured working hours, JSON-encoded. If empty, WorkingHoursLegacy
	// is consulted instead (see WorkingIntervalsFor).
	WorkingHoursJSON string `gorm:"column:working_hours;type:text" json:"-"`
	// Legacy single-string form "HH:MM-HH:MM,HH:MM-HH:MM" applied to
	// every non-closed weekday when the structured form is absent.
	WorkingHoursLegacy *string `gorm:"type:varchar(255)" json:"workingHoursLegacy,omitempty"`

	ClosedWeekdaysCSV  string `gorm:"column:closed_weekdays;type:varchar(64)" json:"-"`   // "sat,sun"
	ClosedDatesCSV     string `gorm:"column:closed_dates;type:text" json:"-"`             // "2025-12-25,2025-01-01"
	ClosedRecurringCSV string `gorm:"column:closed_recurring;type:varchar(255)" json:"-"` // "12-25,01-01"

	WAPhoneNumberID string `gorm:"column:wa_phone_number_id;type:varchar(64);index" json:"-"`
	WAToken         string `gorm:"column:wa_token;type:text" json:"-"`
	CalendarID      string `gorm:"column:calendar_id;type:varchar(255)" json:"-"`
	APIKey          string `gorm:"column:api_key;type:varchar(128);uniqueIndex" json:"-"`

	EnableStaffSelection   bool `gorm:"not null;default:false" json:"enableStaffSelection"`
	StaffSelectionRequired bool `gorm:"not null;default:false" json:"staffSelectionRequired"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Shop) TableName() string { return "shops" }

func (s *Shop) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// ClosedWeekdays returns the set of mon..sun keys the shop is closed.
func (s *Shop) ClosedWeekdays() map[string]bool {
	out := make(map[string]bool)
	for _, d := range splitCSV(s.ClosedWeekdaysCSV) {
		out[d] = true
	}
	return out
}

// ClosedDates returns the literal YYYY-MM-DD closures.
func (s *Shop) ClosedDates() map[string]bool {
	out := make(map[string]bool)
	for _, d := range splitCSV(s.ClosedDatesCSV) {
		out[d] = true
	}
	return out
}

// ClosedRecurring returns the MM-DD annual closures.
func (s *Shop) ClosedRecurring() map[string]bool {
	out := make(map[string]bool)
	for _, d := range splitCSV(s.ClosedRecurringCSV) {
		out[d] = true
	}
	return out
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
