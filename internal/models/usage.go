package models

// UsageDaily is the per-day request tally for one provider and category.
type UsageDaily struct {
	ID           uint     `gorm:"primaryKey" json:"id"`
	UsageDate    string   `gorm:"size:10;not null;uniqueIndex:uq_usage_daily" json:"usage_date"` // YYYY-MM-DD
	ProviderID   uint     `gorm:"not null;uniqueIndex:uq_usage_daily" json:"provider_id"`
	Category     Category `gorm:"size:20;not null;uniqueIndex:uq_usage_daily" json:"category"`
	RequestCount int64    `gorm:"not null;default:0" json:"request_count"`
	SuccessCount int64    `gorm:"not null;default:0" json:"success_count"`
	FailureCount int64    `gorm:"not null;default:0" json:"failure_count"`
}

func (UsageDaily) TableName() string {
	return "usage_daily"
}

// UsageDateLayout is the layout of UsageDaily.UsageDate.
const UsageDateLayout = "2006-01-02"
