package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// subscriptionRepo 订阅仓库实现
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅仓库
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetByUser 获取用户全部订阅
func (r *subscriptionRepo) GetByUser(ctx context.Context, userID uint64) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get subscriptions for user %d: %v", userID, err)
		return nil, err
	}

	subs := make([]*biz.Subscription, len(models))
	for i, m := range models {
		subs[i] = subToBiz(&m)
	}
	return subs, nil
}

// GetByID 按 ID 获取订阅, 不存在时返回 nil
func (r *subscriptionRepo) GetByID(ctx context.Context, id string) (*biz.Subscription, error) {
	var m model.Subscription
	err := r.data.DB(ctx).Where("subscription_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get subscription %s: %v", id, err)
		return nil, err
	}
	return subToBiz(&m), nil
}

// GetByEmailAccount 获取邮箱账号下全部订阅
func (r *subscriptionRepo) GetByEmailAccount(ctx context.Context, accountID string) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).
		Where("email_account_id = ?", accountID).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get subscriptions for account %s: %v", accountID, err)
		return nil, err
	}

	subs := make([]*biz.Subscription, len(models))
	for i, m := range models {
		subs[i] = subToBiz(&m)
	}
	return subs, nil
}

// Create 创建订阅
func (r *subscriptionRepo) Create(ctx context.Context, sub *biz.Subscription) error {
	if err := r.data.DB(ctx).Create(subToModel(sub)).Error; err != nil {
		r.log.Errorf("Failed to create subscription for user %d: %v", sub.UserID, err)
		return err
	}
	return nil
}

// Update 保存订阅
func (r *subscriptionRepo) Update(ctx context.Context, sub *biz.Subscription) error {
	if err := r.data.DB(ctx).Save(subToModel(sub)).Error; err != nil {
		r.log.Errorf("Failed to save subscription %s: %v", sub.ID, err)
		return err
	}
	return nil
}

// ListUserIDs 列出持有未归档订阅的全部用户 (用于定时任务)
func (r *subscriptionRepo) ListUserIDs(ctx context.Context) ([]uint64, error) {
	var userIDs []uint64
	if err := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("status <> ?", constants.StatusArchived).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error; err != nil {
		r.log.Errorf("Failed to list user IDs: %v", err)
		return nil, err
	}
	return userIDs, nil
}

// ListTrialsDue 列出续费日已过的试用订阅 (用于转正任务)
func (r *subscriptionRepo) ListTrialsDue(ctx context.Context, asOf time.Time) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).
		Where("status = ? AND next_renewal_date IS NOT NULL AND next_renewal_date < ?",
			constants.StatusTrialActive, asOf).
		Order("next_renewal_date ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list due trials: %v", err)
		return nil, err
	}

	subs := make([]*biz.Subscription, len(models))
	for i, m := range models {
		subs[i] = subToBiz(&m)
	}
	return subs, nil
}

// 转换为业务对象
func subToBiz(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:                  m.ID,
		UserID:              m.UserID,
		EmailAccountID:      m.EmailAccountID,
		ServiceName:         m.ServiceName,
		Price:               m.Price,
		Currency:            m.Currency,
		BillingCycle:        m.BillingCycle,
		NextRenewalDate:     m.NextRenewalDate,
		Category:            m.Category,
		Status:              m.Status,
		Confidence:          m.Confidence,
		RequiresReview:      m.RequiresReview,
		CancellationLink:    m.CancellationLink,
		LastActivityEmailAt: m.LastActivityEmailAt,
		CancelledAt:         m.CancelledAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// 转换为存储模型
func subToModel(sub *biz.Subscription) *model.Subscription {
	return &model.Subscription{
		ID:                  sub.ID,
		UserID:              sub.UserID,
		EmailAccountID:      sub.EmailAccountID,
		ServiceName:         sub.ServiceName,
		Price:               sub.Price,
		Currency:            sub.Currency,
		BillingCycle:        sub.BillingCycle,
		NextRenewalDate:     sub.NextRenewalDate,
		Category:            sub.Category,
		Status:              sub.Status,
		Confidence:          sub.Confidence,
		RequiresReview:      sub.RequiresReview,
		CancellationLink:    sub.CancellationLink,
		LastActivityEmailAt: sub.LastActivityEmailAt,
		CancelledAt:         sub.CancelledAt,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}
