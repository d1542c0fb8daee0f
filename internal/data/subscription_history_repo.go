package data

import (
	"context"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// historyRepo 订阅历史记录仓库实现
type historyRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionHistoryRepo 创建订阅历史记录仓库
func NewSubscriptionHistoryRepo(data *Data, logger log.Logger) biz.SubscriptionHistoryRepo {
	return &historyRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AppendHistory 追加一条历史记录
func (r *historyRepo) AppendHistory(ctx context.Context, history *biz.SubscriptionHistory) error {
	m := &model.SubscriptionHistory{
		SubscriptionID: history.SubscriptionID,
		ChangedAt:      history.ChangedAt,
		ChangeType:     history.ChangeType,
		OldValue:       history.OldValue,
		NewValue:       history.NewValue,
		SourceEmailID:  history.SourceEmailID,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to append history for subscription %s: %v", history.SubscriptionID, err)
		return err
	}
	history.ID = m.ID
	return nil
}

// GetHistory 获取订阅全部历史, 按 changed_at 升序
func (r *historyRepo) GetHistory(ctx context.Context, subscriptionID string) ([]*biz.SubscriptionHistory, error) {
	var models []model.SubscriptionHistory
	if err := r.data.DB(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("changed_at ASC, subscription_history_id ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get history for subscription %s: %v", subscriptionID, err)
		return nil, err
	}

	items := make([]*biz.SubscriptionHistory, len(models))
	for i, m := range models {
		items[i] = historyToBiz(&m)
	}
	return items, nil
}

// GetHistoryPage 分页获取订阅历史, 最新在前
func (r *historyRepo) GetHistoryPage(ctx context.Context, subscriptionID string, page, pageSize int) ([]*biz.SubscriptionHistory, int, error) {
	var models []model.SubscriptionHistory
	var total int64

	// 获取总数
	if err := r.data.DB(ctx).Model(&model.SubscriptionHistory{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count history for subscription %s: %v", subscriptionID, err)
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	if err := r.data.DB(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("changed_at DESC, subscription_history_id DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get history page for subscription %s: %v", subscriptionID, err)
		return nil, 0, err
	}

	items := make([]*biz.SubscriptionHistory, len(models))
	for i, m := range models {
		items[i] = historyToBiz(&m)
	}
	return items, int(total), nil
}

func historyToBiz(m *model.SubscriptionHistory) *biz.SubscriptionHistory {
	return &biz.SubscriptionHistory{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		ChangedAt:      m.ChangedAt,
		ChangeType:     m.ChangeType,
		OldValue:       m.OldValue,
		NewValue:       m.NewValue,
		SourceEmailID:  m.SourceEmailID,
	}
}
