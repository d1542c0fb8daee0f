package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"xinyuan_tech/subtracker-service/internal/conf"
	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
)

// GenerateSummary 一次提醒生成的统计结果
type GenerateSummary struct {
	Created             int
	SkippedDuplicate    int
	SkippedByPreference int
}

func (s *GenerateSummary) add(other *GenerateSummary) {
	s.Created += other.Created
	s.SkippedDuplicate += other.SkippedDuplicate
	s.SkippedByPreference += other.SkippedByPreference
}

// AlertUsecase 提醒调度业务逻辑
type AlertUsecase struct {
	alertRepo   AlertRepo
	subRepo     SubscriptionRepo
	historyRepo SubscriptionHistoryRepo
	prefsRepo   PreferencesRepo
	rs          *redsync.Redsync
	cfg         *conf.AlertSettings
	log         *log.Helper
	now         func() time.Time
}

// NewAlertUsecase 创建提醒调度业务用例
func NewAlertUsecase(
	alertRepo AlertRepo,
	subRepo SubscriptionRepo,
	historyRepo SubscriptionHistoryRepo,
	prefsRepo PreferencesRepo,
	rs *redsync.Redsync,
	c *conf.Bootstrap,
	logger log.Logger,
) *AlertUsecase {
	var ac *conf.AlertSettings
	if c != nil {
		ac = c.AlertOrDefault()
	} else {
		ac = (&conf.Bootstrap{}).AlertOrDefault()
	}
	return &AlertUsecase{
		alertRepo:   alertRepo,
		subRepo:     subRepo,
		historyRepo: historyRepo,
		prefsRepo:   prefsRepo,
		rs:          rs,
		cfg:         ac,
		log:         log.NewHelper(logger),
		now:         time.Now,
	}
}

// GenerateAlerts 为单个用户跑一轮全部规则并落库新提醒
// 重复执行不会产生重复提醒 (幂等由去重窗口保证)
func (uc *AlertUsecase) GenerateAlerts(ctx context.Context, userID uint64) (*GenerateSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uc.log.Infof("GenerateAlerts: userID=%d", userID)

	// 同一用户的提醒生成必须串行
	unlock, err := uc.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	subs, err := uc.subRepo.GetByUser(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to get subscriptions for user %d: %v", userID, err)
		return nil, err
	}

	history := make(map[string][]*SubscriptionHistory)
	for _, sub := range subs {
		if sub.Status == constants.StatusArchived {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := uc.historyRepo.GetHistory(ctx, sub.ID)
		if err != nil {
			uc.log.Errorf("Failed to get history for subscription %s: %v", sub.ID, err)
			return nil, err
		}
		history[sub.ID] = items
	}

	prefs, err := uc.prefsRepo.GetPreferences(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to get preferences for user %d: %v", userID, err)
		return nil, err
	}
	if prefs == nil {
		prefs = DefaultPreferences(userID)
	}

	now := uc.now().UTC()
	ruleCfg := RuleConfig{
		RenewalWindowDays:   uc.cfg.RenewalWindowDays,
		RenewalReminderDays: uc.cfg.RenewalReminderDays,
		UnusedMonths:        uc.cfg.UnusedMonths,
	}

	var candidates []*AlertCandidate
	candidates = append(candidates, EvaluateRenewalWindow(subs, now, ruleCfg)...)
	candidates = append(candidates, EvaluateTrialEnding(subs, now, ruleCfg)...)
	candidates = append(candidates, EvaluatePriceIncrease(subs, history, now)...)
	candidates = append(candidates, EvaluateUnused(subs, now, ruleCfg)...)

	loc := uc.userLocation(prefs)
	summary := &GenerateSummary{}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		alertType := cand.Content.AlertType()
		if !prefEnabled(prefs, alertType) {
			summary.SkippedByPreference++
			continue
		}

		since := now.Add(-dedupWindow(cand.BillingCycle))
		existing, err := uc.alertRepo.FindActive(ctx, cand.SubscriptionID, alertType, since)
		if err != nil {
			uc.log.Errorf("Failed to check existing alerts for subscription %s: %v", cand.SubscriptionID, err)
			return summary, err
		}
		if existing != nil {
			summary.SkippedDuplicate++
			continue
		}

		alert := &Alert{
			ID:             uuid.New().String(),
			UserID:         cand.UserID,
			SubscriptionID: cand.SubscriptionID,
			Type:           alertType,
			Message:        cand.Content.Message(cand.ServiceName),
			ScheduledFor:   uc.scheduleTime(cand, loc),
			Status:         constants.AlertStatusPending,
			Metadata:       cand.Content.Metadata(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		// digest 模式只打标, 同日合并由投递侧完成
		if prefs.DailyDigest {
			alert.Metadata["daily_digest"] = true
		}

		if err := uc.alertRepo.Create(ctx, alert); err != nil {
			uc.log.Errorf("Failed to create alert for subscription %s: %v", cand.SubscriptionID, err)
			return summary, err
		}
		summary.Created++
	}

	uc.log.Infof("GenerateAlerts done: userID=%d, created=%d, dupSkipped=%d, prefSkipped=%d",
		userID, summary.Created, summary.SkippedDuplicate, summary.SkippedByPreference)
	return summary, nil
}

// GenerateAlertsForAllUsers 对所有持有订阅的用户并发生成提醒
// 并发度受限于连接池预算, 单用户仍由分布式锁串行
func (uc *AlertUsecase) GenerateAlertsForAllUsers(ctx context.Context) (*GenerateSummary, error) {
	uc.log.Infof("Starting alert generation for all users")

	userIDs, err := uc.subRepo.ListUserIDs(ctx)
	if err != nil {
		uc.log.Errorf("Failed to list user IDs: %v", err)
		return nil, err
	}

	workers := uc.cfg.WorkerPoolSize
	if workers < 1 {
		workers = constants.DefaultAlertWorkers
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		total   GenerateSummary
		skipped int
	)
	sem := make(chan struct{}, workers)

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			break
		}
		userID := userID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := uc.GenerateAlerts(ctx, userID)
			if err != nil {
				if errors.IsConflict(err) {
					uc.log.Infof("Skipping user %d: already processing", userID)
				} else {
					uc.log.Errorf("Alert generation failed for user %d: %v", userID, err)
				}
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}
			mu.Lock()
			total.add(summary)
			mu.Unlock()
		}()
	}
	wg.Wait()

	uc.log.Infof("Alert generation completed: users=%d, skippedUsers=%d, created=%d, dupSkipped=%d, prefSkipped=%d",
		len(userIDs), skipped, total.Created, total.SkippedDuplicate, total.SkippedByPreference)
	return &total, nil
}

// SnoozeAlert 延后提醒, 仅 pending/failed 状态可延后
func (uc *AlertUsecase) SnoozeAlert(ctx context.Context, id string, hours int) (*Alert, error) {
	uc.log.Infof("SnoozeAlert: id=%s, hours=%d", id, hours)

	alert, err := uc.alertRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, errors.NotFound(errors.ErrCodeAlertNotFound, "alert %s not found", id)
	}
	if alert.Status != constants.AlertStatusPending && alert.Status != constants.AlertStatusFailed {
		return nil, errors.InvalidState(errors.ErrCodeCannotSnoozeStatus,
			"cannot snooze alert %s in status %s", id, alert.Status)
	}

	if hours <= 0 {
		hours = constants.DefaultSnoozeHours
	}
	alert.ScheduledFor = alert.ScheduledFor.Add(time.Duration(hours) * time.Hour)
	alert.Status = constants.AlertStatusSnoozed
	alert.UpdatedAt = uc.now().UTC()

	if err := uc.alertRepo.Update(ctx, alert); err != nil {
		uc.log.Errorf("Failed to snooze alert %s: %v", id, err)
		return nil, err
	}
	return alert, nil
}

// DismissAlert 撤销提醒 (终态, 不再参与去重, 条件重新满足时可再次提醒)
func (uc *AlertUsecase) DismissAlert(ctx context.Context, id string) error {
	uc.log.Infof("DismissAlert: id=%s", id)

	alert, err := uc.alertRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return errors.NotFound(errors.ErrCodeAlertNotFound, "alert %s not found", id)
	}

	alert.Status = constants.AlertStatusDismissed
	alert.UpdatedAt = uc.now().UTC()
	if err := uc.alertRepo.Update(ctx, alert); err != nil {
		uc.log.Errorf("Failed to dismiss alert %s: %v", id, err)
		return err
	}
	return nil
}

// MarkSent 投递侧回报发送成功
func (uc *AlertUsecase) MarkSent(ctx context.Context, id string) error {
	alert, err := uc.alertRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return errors.NotFound(errors.ErrCodeAlertNotFound, "alert %s not found", id)
	}

	now := uc.now().UTC()
	alert.Status = constants.AlertStatusSent
	alert.SentAt = &now
	alert.UpdatedAt = now
	if err := uc.alertRepo.Update(ctx, alert); err != nil {
		uc.log.Errorf("Failed to mark alert %s sent: %v", id, err)
		return err
	}
	return nil
}

// MarkFailed 投递侧回报发送失败, 只计数不重入队, 重试策略归投递侧
func (uc *AlertUsecase) MarkFailed(ctx context.Context, id string) error {
	alert, err := uc.alertRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return errors.NotFound(errors.ErrCodeAlertNotFound, "alert %s not found", id)
	}

	alert.Status = constants.AlertStatusFailed
	alert.RetryCount++
	alert.UpdatedAt = uc.now().UTC()
	if err := uc.alertRepo.Update(ctx, alert); err != nil {
		uc.log.Errorf("Failed to mark alert %s failed: %v", id, err)
		return err
	}
	return nil
}

// GetPendingAlerts 投递侧轮询待发送提醒 (含已到时间的 snoozed)
func (uc *AlertUsecase) GetPendingAlerts(ctx context.Context, asOf time.Time) ([]*Alert, error) {
	return uc.alertRepo.GetPending(ctx, asOf)
}

// scheduleTime 计算发送时间: 涨价类立即, 其余在评估日的固定本地时刻
func (uc *AlertUsecase) scheduleTime(cand *AlertCandidate, loc *time.Location) time.Time {
	if cand.Immediate {
		return uc.now().UTC()
	}
	fire := cand.FireDate.In(loc)
	return time.Date(fire.Year(), fire.Month(), fire.Day(), uc.cfg.SendHour, 0, 0, 0, loc).UTC()
}

// userLocation 解析用户时区, 失败回退 UTC
func (uc *AlertUsecase) userLocation(prefs *UserPreferences) *time.Location {
	if prefs.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		uc.log.Warnf("Invalid timezone %q for user %d, falling back to UTC", prefs.Timezone, prefs.UserID)
		return time.UTC
	}
	return loc
}

// lockUser 获取用户级提醒生成锁, 返回解锁函数
// 只尝试一次, 获取失败说明该用户正在处理
func (uc *AlertUsecase) lockUser(ctx context.Context, userID uint64) (func(), error) {
	if uc.rs == nil {
		return func() {}, nil
	}

	mutex := uc.rs.NewMutex(
		fmt.Sprintf("alert_gen_lock:user:%d", userID),
		redsync.WithExpiry(constants.AlertGenLockExpiration),
		redsync.WithTries(constants.AlertGenLockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.Conflict(errors.ErrCodeUserBusy, "alert generation for user %d is in progress", userID)
	}
	return func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock alert generation for user %d: %v", userID, err)
		}
	}, nil
}

// prefEnabled 按提醒类型匹配用户偏好开关
func prefEnabled(prefs *UserPreferences, alertType string) bool {
	switch alertType {
	case constants.AlertRenewal7Days, constants.AlertRenewal3Days:
		return prefs.RenewalAlerts
	case constants.AlertPriceIncrease:
		return prefs.PriceIncreaseAlerts
	case constants.AlertTrialEnding:
		return prefs.TrialEndingAlerts
	case constants.AlertUnused:
		return prefs.UnusedAlerts
	}
	return false
}

// dedupWindow 已发送提醒的抑制窗口, 取计费周期的一半
// 新周期到来时允许再次提醒, 同周期内重复执行保持幂等
func dedupWindow(billingCycle string) time.Duration {
	switch billingCycle {
	case constants.CycleWeekly:
		return 3 * 24 * time.Hour
	case constants.CycleQuarterly:
		return 45 * 24 * time.Hour
	case constants.CycleAnnual:
		return 180 * 24 * time.Hour
	default:
		// monthly, unknown
		return 15 * 24 * time.Hour
	}
}
