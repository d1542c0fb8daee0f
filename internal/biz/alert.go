package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/subtracker-service/internal/constants"
)

// Alert 已计划或已投递的提醒
type Alert struct {
	ID             string
	UserID         uint64
	SubscriptionID string
	Type           string
	Message        string
	ScheduledFor   time.Time
	SentAt         *time.Time
	Status         string // pending, sent, failed, snoozed, dismissed
	RetryCount     int
	Metadata       map[string]interface{} // 投递侧使用的结构化内容(digest 分组等)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AlertRepo 提醒仓库接口
type AlertRepo interface {
	// FindActive 查找同 (订阅, 类型) 下仍在抑制窗口内的提醒
	// pending/snoozed/failed 一律计入; sent 仅在 sentSince 之后计入
	FindActive(ctx context.Context, subscriptionID, alertType string, sentSince time.Time) (*Alert, error)
	Create(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	GetPending(ctx context.Context, asOf time.Time) ([]*Alert, error)
}

// UserPreferences 用户提醒偏好 (由外部偏好服务维护, 本服务只读)
type UserPreferences struct {
	UserID              uint64
	RenewalAlerts       bool
	PriceIncreaseAlerts bool
	TrialEndingAlerts   bool
	UnusedAlerts        bool
	DailyDigest         bool
	Currency            string
	Timezone            string
}

// PreferencesRepo 用户偏好查询接口
type PreferencesRepo interface {
	GetPreferences(ctx context.Context, userID uint64) (*UserPreferences, error)
}

// DefaultPreferences 未配置偏好的用户默认全部开启
func DefaultPreferences(userID uint64) *UserPreferences {
	return &UserPreferences{
		UserID:              userID,
		RenewalAlerts:       true,
		PriceIncreaseAlerts: true,
		TrialEndingAlerts:   true,
		UnusedAlerts:        true,
		Timezone:            "UTC",
	}
}

// AlertContent 各提醒类型专属内容
type AlertContent interface {
	AlertType() string
	Message(serviceName string) string
	Metadata() map[string]interface{}
}

// RenewalContent 续费提醒内容
type RenewalContent struct {
	RenewalDate time.Time
	Price       float64
	Currency    string
	DaysUntil   int
	Reminder    bool // true 表示 3 天临近档
}

func (c RenewalContent) AlertType() string {
	if c.Reminder {
		return constants.AlertRenewal3Days
	}
	return constants.AlertRenewal7Days
}

func (c RenewalContent) Message(serviceName string) string {
	return fmt.Sprintf("%s renews on %s (%s %s), %d day(s) left",
		serviceName, c.RenewalDate.Format("2006-01-02"), formatPrice(c.Price), c.Currency, c.DaysUntil)
}

func (c RenewalContent) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"renewal_date": c.RenewalDate.Format("2006-01-02"),
		"price":        c.Price,
		"currency":     c.Currency,
		"days_until":   c.DaysUntil,
	}
}

// PriceIncreaseContent 涨价提醒内容
type PriceIncreaseContent struct {
	OldPrice  float64
	NewPrice  float64
	PctChange float64
	Currency  string
}

func (c PriceIncreaseContent) AlertType() string { return constants.AlertPriceIncrease }

func (c PriceIncreaseContent) Message(serviceName string) string {
	return fmt.Sprintf("%s price increased from %s to %s %s (+%.2f%%)",
		serviceName, formatPrice(c.OldPrice), formatPrice(c.NewPrice), c.Currency, c.PctChange)
}

func (c PriceIncreaseContent) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"old_price":  c.OldPrice,
		"new_price":  c.NewPrice,
		"pct_change": c.PctChange,
		"currency":   c.Currency,
	}
}

// TrialEndingContent 试用到期提醒内容
// 试用价在转正后即为标价, 因此转正价取订阅当前价格
type TrialEndingContent struct {
	TrialEndDate   time.Time
	PostTrialPrice float64
	Currency       string
}

func (c TrialEndingContent) AlertType() string { return constants.AlertTrialEnding }

func (c TrialEndingContent) Message(serviceName string) string {
	return fmt.Sprintf("%s trial ends on %s, then %s %s per billing cycle",
		serviceName, c.TrialEndDate.Format("2006-01-02"), formatPrice(c.PostTrialPrice), c.Currency)
}

func (c TrialEndingContent) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"trial_end_date":   c.TrialEndDate.Format("2006-01-02"),
		"post_trial_price": c.PostTrialPrice,
		"currency":         c.Currency,
	}
}

// UnusedContent 闲置订阅提醒内容
type UnusedContent struct {
	LastActivityAt *time.Time
	MonthlyPrice   float64
	Currency       string
}

func (c UnusedContent) AlertType() string { return constants.AlertUnused }

func (c UnusedContent) Message(serviceName string) string {
	if c.LastActivityAt == nil {
		return fmt.Sprintf("%s shows no activity since you added it, about %s %s/month",
			serviceName, formatPrice(c.MonthlyPrice), c.Currency)
	}
	return fmt.Sprintf("%s unused since %s, about %s %s/month",
		serviceName, c.LastActivityAt.Format("2006-01-02"), formatPrice(c.MonthlyPrice), c.Currency)
}

func (c UnusedContent) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"monthly_price": c.MonthlyPrice,
		"currency":      c.Currency,
	}
	if c.LastActivityAt != nil {
		m["last_activity_at"] = c.LastActivityAt.Format("2006-01-02")
	}
	return m
}

// AlertCandidate 规则评估产出的候选提醒 (尚未去重和落库)
type AlertCandidate struct {
	UserID         uint64
	SubscriptionID string
	ServiceName    string
	BillingCycle   string
	FireDate       time.Time // 评估日, 定时类提醒以此为发送日
	Immediate      bool      // 涨价提醒立即发送
	Content        AlertContent
}
