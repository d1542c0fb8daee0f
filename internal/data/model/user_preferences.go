package model

import "time"

// UserPreferences 用户提醒偏好模型 (外部偏好服务维护, 本服务只读)
type UserPreferences struct {
	UserID              uint64    `gorm:"primaryKey;column:user_id"`
	RenewalAlerts       bool      `gorm:"column:renewal_alerts;default:true"`
	PriceIncreaseAlerts bool      `gorm:"column:price_increase_alerts;default:true"`
	TrialEndingAlerts   bool      `gorm:"column:trial_ending_alerts;default:true"`
	UnusedAlerts        bool      `gorm:"column:unused_alerts;default:true"`
	DailyDigest         bool      `gorm:"column:daily_digest;default:false"`
	Currency            string    `gorm:"column:currency;type:varchar(3)"`
	Timezone            string    `gorm:"column:timezone;type:varchar(64)"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (UserPreferences) TableName() string { return "user_preferences" }
