package biz

import (
	"context"
	"time"
)

// Subscription 订阅记录
type Subscription struct {
	ID                  string
	UserID              uint64
	EmailAccountID      string // 为空表示手动录入
	ServiceName         string
	Price               float64
	Currency            string
	BillingCycle        string // weekly, monthly, quarterly, annual, unknown
	NextRenewalDate     *time.Time
	Category            string
	Status              string // active, cancelled, archived, pending_review, trial_active
	Confidence          float64
	RequiresReview      bool
	CancellationLink    string
	LastActivityEmailAt *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// 字段级置信度的固定键集合
const (
	FieldServiceName     = "serviceName"
	FieldPrice           = "price"
	FieldCurrency        = "currency"
	FieldBillingCycle    = "billingCycle"
	FieldNextRenewalDate = "nextRenewalDate"
	FieldCategory        = "category"
)

// Candidate 对账候选 (来自 AI 抽取结果或手动录入)
type Candidate struct {
	ServiceName      string
	Price            float64
	Currency         string
	BillingCycle     string
	NextRenewalDate  *time.Time
	Category         string
	CancellationLink string
	Confidence       float64
	FieldConfidences map[string]float64
	Warnings         []string
	IsTrial          bool
	IsCancellation   bool
	EmailAccountID   string
	SourceEmailID    string
	Manual           bool
}

// 对账结果分支
const (
	EffectCreated  = "created"
	EffectMerged   = "merged"
	EffectReviewed = "reviewed"
)

// SubscriptionRepo 订阅仓库接口
type SubscriptionRepo interface {
	GetByUser(ctx context.Context, userID uint64) ([]*Subscription, error)
	GetByID(ctx context.Context, id string) (*Subscription, error)
	GetByEmailAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	// 批量操作（用于定时任务）
	ListUserIDs(ctx context.Context) ([]uint64, error)
	ListTrialsDue(ctx context.Context, asOf time.Time) ([]*Subscription, error)
}
