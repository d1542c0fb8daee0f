package model

import (
	"time"

	"gorm.io/datatypes"
)

// Alert 提醒模型
type Alert struct {
	ID             string            `gorm:"primaryKey;column:alert_id;type:varchar(36)"`
	UserID         uint64            `gorm:"column:user_id;index:idx_user_id"`
	SubscriptionID string            `gorm:"column:subscription_id;type:varchar(36);index:idx_sub_type,priority:1"`
	Type           string            `gorm:"column:type;type:varchar(32);index:idx_sub_type,priority:2"`
	Message        string            `gorm:"column:message"`
	ScheduledFor   time.Time         `gorm:"column:scheduled_for;index:idx_scheduled_for"`
	SentAt         *time.Time        `gorm:"column:sent_at"`
	Status         string            `gorm:"column:status;type:enum('pending','sent','failed','snoozed','dismissed');index:idx_status"`
	RetryCount     int               `gorm:"column:retry_count;default:0"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at"`
}

func (Alert) TableName() string { return "alert" }
