package biz

import (
	"context"
	"time"
)

// SubscriptionHistory 订阅变更历史记录 (只增不改)
type SubscriptionHistory struct {
	ID             uint64
	SubscriptionID string
	ChangedAt      time.Time
	ChangeType     string // price_change, renewal_date_update, status_change
	OldValue       string
	NewValue       string
	SourceEmailID  string
}

// SubscriptionHistoryRepo 订阅历史记录仓库接口
type SubscriptionHistoryRepo interface {
	AppendHistory(ctx context.Context, history *SubscriptionHistory) error
	// GetHistory 按 changed_at 升序返回全部历史
	GetHistory(ctx context.Context, subscriptionID string) ([]*SubscriptionHistory, error)
	GetHistoryPage(ctx context.Context, subscriptionID string, page, pageSize int) ([]*SubscriptionHistory, int, error)
}

// GetSubscriptionHistory 获取订阅历史记录
func (uc *SubscriptionUsecase) GetSubscriptionHistory(ctx context.Context, subscriptionID string, page, pageSize int) ([]*SubscriptionHistory, int, error) {
	uc.log.Infof("GetSubscriptionHistory: subscriptionID=%s, page=%d, pageSize=%d", subscriptionID, page, pageSize)

	// 参数验证
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	items, total, err := uc.historyRepo.GetHistoryPage(ctx, subscriptionID, page, pageSize)
	if err != nil {
		uc.log.Errorf("Failed to get subscription history: %v", err)
		return nil, 0, err
	}

	uc.log.Infof("Retrieved %d history items for subscription %s", len(items), subscriptionID)
	return items, total, nil
}
