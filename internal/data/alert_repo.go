package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// alertRepo 提醒仓库实现
type alertRepo struct {
	data *Data
	log  *log.Helper
}

// NewAlertRepo 创建提醒仓库
func NewAlertRepo(data *Data, logger log.Logger) biz.AlertRepo {
	return &alertRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// FindActive 查找同 (订阅, 类型) 下仍在抑制窗口内的提醒
// pending/snoozed/failed 一律计入; sent 仅在 sentSince 之后计入; dismissed 不计入
func (r *alertRepo) FindActive(ctx context.Context, subscriptionID, alertType string, sentSince time.Time) (*biz.Alert, error) {
	var m model.Alert
	err := r.data.DB(ctx).
		Where("subscription_id = ? AND type = ?", subscriptionID, alertType).
		Where("status IN ? OR (status = ? AND sent_at >= ?)",
			[]string{constants.AlertStatusPending, constants.AlertStatusSnoozed, constants.AlertStatusFailed},
			constants.AlertStatusSent, sentSince).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to find active alert for subscription %s type %s: %v", subscriptionID, alertType, err)
		return nil, err
	}
	return alertToBiz(&m), nil
}

// Create 创建提醒
func (r *alertRepo) Create(ctx context.Context, alert *biz.Alert) error {
	if err := r.data.DB(ctx).Create(alertToModel(alert)).Error; err != nil {
		r.log.Errorf("Failed to create alert for subscription %s: %v", alert.SubscriptionID, err)
		return err
	}
	return nil
}

// Update 保存提醒
func (r *alertRepo) Update(ctx context.Context, alert *biz.Alert) error {
	if err := r.data.DB(ctx).Save(alertToModel(alert)).Error; err != nil {
		r.log.Errorf("Failed to save alert %s: %v", alert.ID, err)
		return err
	}
	return nil
}

// GetByID 按 ID 获取提醒, 不存在时返回 nil
func (r *alertRepo) GetByID(ctx context.Context, id string) (*biz.Alert, error) {
	var m model.Alert
	err := r.data.DB(ctx).Where("alert_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get alert %s: %v", id, err)
		return nil, err
	}
	return alertToBiz(&m), nil
}

// GetPending 获取到期待投递的提醒 (含已到时间的 snoozed)
func (r *alertRepo) GetPending(ctx context.Context, asOf time.Time) ([]*biz.Alert, error) {
	var models []model.Alert
	if err := r.data.DB(ctx).
		Where("status IN ? AND scheduled_for <= ?",
			[]string{constants.AlertStatusPending, constants.AlertStatusSnoozed}, asOf).
		Order("scheduled_for ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get pending alerts: %v", err)
		return nil, err
	}

	alerts := make([]*biz.Alert, len(models))
	for i, m := range models {
		alerts[i] = alertToBiz(&m)
	}
	return alerts, nil
}

func alertToBiz(m *model.Alert) *biz.Alert {
	return &biz.Alert{
		ID:             m.ID,
		UserID:         m.UserID,
		SubscriptionID: m.SubscriptionID,
		Type:           m.Type,
		Message:        m.Message,
		ScheduledFor:   m.ScheduledFor,
		SentAt:         m.SentAt,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		Metadata:       map[string]interface{}(m.Metadata),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func alertToModel(alert *biz.Alert) *model.Alert {
	return &model.Alert{
		ID:             alert.ID,
		UserID:         alert.UserID,
		SubscriptionID: alert.SubscriptionID,
		Type:           alert.Type,
		Message:        alert.Message,
		ScheduledFor:   alert.ScheduledFor,
		SentAt:         alert.SentAt,
		Status:         alert.Status,
		RetryCount:     alert.RetryCount,
		Metadata:       datatypes.JSONMap(alert.Metadata),
		CreatedAt:      alert.CreatedAt,
		UpdatedAt:      alert.UpdatedAt,
	}
}
