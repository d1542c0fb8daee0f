package data

import (
	"context"
	"errors"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// preferencesRepo 用户偏好查询实现 (偏好表由外部偏好服务维护)
type preferencesRepo struct {
	data *Data
	log  *log.Helper
}

// NewPreferencesRepo 创建用户偏好查询仓库
func NewPreferencesRepo(data *Data, logger log.Logger) biz.PreferencesRepo {
	return &preferencesRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetPreferences 获取用户提醒偏好, 未配置时返回 nil
func (r *preferencesRepo) GetPreferences(ctx context.Context, userID uint64) (*biz.UserPreferences, error) {
	var m model.UserPreferences
	err := r.data.DB(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get preferences for user %d: %v", userID, err)
		return nil, err
	}

	return &biz.UserPreferences{
		UserID:              m.UserID,
		RenewalAlerts:       m.RenewalAlerts,
		PriceIncreaseAlerts: m.PriceIncreaseAlerts,
		TrialEndingAlerts:   m.TrialEndingAlerts,
		UnusedAlerts:        m.UnusedAlerts,
		DailyDigest:         m.DailyDigest,
		Currency:            m.Currency,
		Timezone:            m.Timezone,
	}, nil
}
