package model

import "time"

// SubscriptionHistory 订阅变更历史模型 (只增不改)
type SubscriptionHistory struct {
	ID             uint64    `gorm:"primaryKey;column:subscription_history_id;autoIncrement"`
	SubscriptionID string    `gorm:"column:subscription_id;type:varchar(36);index:idx_subscription_id"`
	ChangedAt      time.Time `gorm:"column:changed_at;index:idx_changed_at"`
	ChangeType     string    `gorm:"column:change_type;type:enum('price_change','renewal_date_update','status_change')"`
	OldValue       string    `gorm:"column:old_value"`
	NewValue       string    `gorm:"column:new_value"`
	SourceEmailID  string    `gorm:"column:source_email_id;type:varchar(36)"` // 溯源用, 可为空
}

func (SubscriptionHistory) TableName() string { return "subscription_history" }
