package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the kind of water a counter measures.
type Category string

const (
	CategoryHot  Category = "hot"
	CategoryCold Category = "cold"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryHot || c == CategoryCold
}

// ServiceType is a billed service with its own tariff.
type ServiceType string

const (
	ServiceColdWater  ServiceType = "cold_water"
	ServiceHotWater   ServiceType = "hot_water"
	ServiceWastewater ServiceType = "wastewater"
)

// ServiceTypes lists every billed service in display order.
var ServiceTypes = []ServiceType{ServiceColdWater, ServiceHotWater, ServiceWastewater}

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceColdWater, ServiceHotWater, ServiceWastewater:
		return true
	}
	return false
}

// Counter is a physical water meter.
type Counter struct {
	ID          uint      `json:"id" gorm:"primaryKey;column:id"`
	Number      string    `json:"number" gorm:"uniqueIndex;size:50;not null;column:number"`
	Category    Category  `json:"category" gorm:"size:20;not null;column:water_type"`
	Description string    `json:"description,omitempty" gorm:"column:description"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

// Reading is a cumulative meter value taken at ReadingDate.
type Reading struct {
	ID          uint      `json:"id" gorm:"primaryKey;column:id"`
	CounterID   uint      `json:"counter_id" gorm:"index;not null;column:counter_id"`
	Value       int64     `json:"value" gorm:"not null;column:value"`
	ReadingDate time.Time `json:"reading_date" gorm:"index;not null;column:reading_date"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

// Tariff is a price per cubic meter valid over [StartDate, EndDate).
// A nil EndDate means the tariff is open-ended.
type Tariff struct {
	ID          uint            `json:"id" gorm:"primaryKey;column:id"`
	ServiceType ServiceType     `json:"service_type" gorm:"size:20;index;not null;column:service_type"`
	Price       decimal.Decimal `json:"price_per_cubic_meter" gorm:"type:numeric(12,4);not null;column:price_per_cubic_meter"`
	StartDate   time.Time       `json:"start_date" gorm:"not null;column:start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty" gorm:"column:end_date"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at"`
}

// Covers reports whether t is inside the tariff's validity window.
func (t Tariff) Covers(at time.Time) bool {
	if t.StartDate.After(at) {
		return false
	}
	return t.EndDate == nil || t.EndDate.After(at)
}

// Payment is a persisted billing computation. Rows are never updated.
type Payment struct {
	ID          uint      `json:"id" gorm:"primaryKey;column:id"`
	Reference   string    `json:"reference" gorm:"uniqueIndex;size:36;column:reference"`
	PeriodStart time.Time `json:"period_start" gorm:"index;not null;column:period_start"`
	PeriodEnd   time.Time `json:"period_end" gorm:"not null;column:period_end"`

	ColdWaterConsumption int64           `json:"cold_water_consumption" gorm:"not null;column:cold_water_consumption"`
	ColdWaterRate        decimal.Decimal `json:"cold_water_rate" gorm:"type:numeric(12,4);not null;column:cold_water_rate"`
	ColdWaterAmount      decimal.Decimal `json:"cold_water_amount" gorm:"type:numeric(14,4);not null;column:cold_water_amount"`

	HotWaterConsumption int64           `json:"hot_water_consumption" gorm:"not null;column:hot_water_consumption"`
	HotWaterRate        decimal.Decimal `json:"hot_water_rate" gorm:"type:numeric(12,4);not null;column:hot_water_rate"`
	HotWaterAmount      decimal.Decimal `json:"hot_water_amount" gorm:"type:numeric(14,4);not null;column:hot_water_amount"`

	WastewaterConsumption int64           `json:"wastewater_consumption" gorm:"not null;column:wastewater_consumption"`
	WastewaterRate        decimal.Decimal `json:"wastewater_rate" gorm:"type:numeric(12,4);not null;column:wastewater_rate"`
	WastewaterAmount      decimal.Decimal `json:"wastewater_amount" gorm:"type:numeric(14,4);not null;column:wastewater_amount"`

	TotalAmount  decimal.Decimal `json:"total_amount" gorm:"type:numeric(14,4);not null;column:total_amount"`
	Notes        string          `json:"notes,omitempty" gorm:"column:notes"`
	CalculatedAt time.Time       `json:"calculated_at" gorm:"index;column:calculated_at"`
}
