package model

import "time"

// Subscription 订阅模型
type Subscription struct {
	ID                  string     `gorm:"primaryKey;column:subscription_id;type:varchar(36)"`
	UserID              uint64     `gorm:"column:user_id;index:idx_user_id"`
	EmailAccountID      string     `gorm:"column:email_account_id;type:varchar(36);index:idx_email_account_id"` // 为空表示手动录入
	ServiceName         string     `gorm:"column:service_name"`
	Price               float64    `gorm:"column:price"`
	Currency            string     `gorm:"column:currency;type:varchar(3)"`
	BillingCycle        string     `gorm:"column:billing_cycle;type:enum('weekly','monthly','quarterly','annual','unknown')"`
	NextRenewalDate     *time.Time `gorm:"column:next_renewal_date"`
	Category            string     `gorm:"column:category"`
	Status              string     `gorm:"column:status;type:enum('active','cancelled','archived','pending_review','trial_active');index:idx_status"`
	Confidence          float64    `gorm:"column:confidence"`
	RequiresReview      bool       `gorm:"column:requires_review;default:false"`
	CancellationLink    string     `gorm:"column:cancellation_link"`
	LastActivityEmailAt *time.Time `gorm:"column:last_activity_email_at"`
	CancelledAt         *time.Time `gorm:"column:cancelled_at"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "subscription" }
