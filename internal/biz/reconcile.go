package biz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
)

// SubscriptionUsecase 订阅对账业务逻辑
type SubscriptionUsecase struct {
	subRepo     SubscriptionRepo
	historyRepo SubscriptionHistoryRepo
	tx          Transaction
	rs          *redsync.Redsync
	log         *log.Helper
	now         func() time.Time
}

// NewSubscriptionUsecase 创建订阅对账业务用例
func NewSubscriptionUsecase(
	subRepo SubscriptionRepo,
	historyRepo SubscriptionHistoryRepo,
	tx Transaction,
	rs *redsync.Redsync,
	logger log.Logger,
) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		subRepo:     subRepo,
		historyRepo: historyRepo,
		tx:          tx,
		rs:          rs,
		log:         log.NewHelper(logger),
		now:         time.Now,
	}
}

// Reconcile 对账入口: 对一个候选订阅决定新建、合并或标记复核
func (uc *SubscriptionUsecase) Reconcile(ctx context.Context, userID uint64, cand *Candidate) (*Subscription, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	uc.log.Infof("Reconcile: userID=%d, service=%q, confidence=%.2f", userID, cand.ServiceName, cand.Confidence)

	// 手动录入默认满置信度
	if cand.Manual && cand.Confidence == 0 {
		cand.Confidence = 1.0
	}
	if err := validateCandidate(cand); err != nil {
		uc.log.Errorf("Candidate validation failed for user %d: %v", userID, err)
		return nil, "", err
	}

	// 同一用户的对账必须串行, 重复检测到写入是一个读-改-写
	unlock, err := uc.lockUser(ctx, "reconcile_lock", userID,
		constants.ReconcileLockExpiration, constants.ReconcileLockRetries)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	subs, err := uc.subRepo.GetByUser(ctx, userID)
	if err != nil {
		uc.log.Errorf("Failed to get subscriptions for user %d: %v", userID, err)
		return nil, "", err
	}

	target := findDuplicate(subs, cand)
	if target == nil {
		return uc.createFromCandidate(ctx, userID, cand)
	}

	sub, err := uc.mergeCandidate(ctx, target, cand)
	if err != nil {
		return nil, "", err
	}
	return sub, EffectMerged, nil
}

// findDuplicate 在同一邮箱账号下的未归档订阅中寻找最佳模糊匹配
// 并列时取最近更新的记录
func findDuplicate(subs []*Subscription, cand *Candidate) *Subscription {
	var best *Subscription
	var bestScore float64

	for _, sub := range subs {
		if sub.Status == constants.StatusArchived {
			continue
		}
		if sub.EmailAccountID != cand.EmailAccountID {
			continue
		}
		score := SimilarityScore(sub.ServiceName, cand.ServiceName)
		if score < constants.DuplicateThreshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && sub.UpdatedAt.After(best.UpdatedAt)) {
			best = sub
			bestScore = score
		}
	}
	return best
}

// createFromCandidate 无重复时按置信度分级建档
// 低置信度候选不丢弃, 标记复核后照常入库
func (uc *SubscriptionUsecase) createFromCandidate(ctx context.Context, userID uint64, cand *Candidate) (*Subscription, string, error) {
	now := uc.now().UTC()

	status := cand.proposedStatus()
	requiresReview := false
	effect := EffectCreated
	switch {
	case cand.Confidence >= constants.AutoConfidenceThreshold:
	case cand.Confidence >= constants.ReviewConfidenceThreshold:
		status = constants.StatusPendingReview
		requiresReview = true
		effect = EffectReviewed
	default:
		status = constants.StatusPendingReview
		requiresReview = true
		effect = EffectReviewed
		uc.log.Warnf("Low-confidence candidate stored for manual triage: userID=%d, service=%q, confidence=%.2f",
			userID, cand.ServiceName, cand.Confidence)
	}

	cycle := cand.BillingCycle
	if cycle == "" {
		cycle = constants.CycleUnknown
	}

	sub := &Subscription{
		ID:               uuid.New().String(),
		UserID:           userID,
		EmailAccountID:   cand.EmailAccountID,
		ServiceName:      cand.ServiceName,
		Price:            cand.Price,
		Currency:         strings.ToUpper(cand.Currency),
		BillingCycle:     cycle,
		NextRenewalDate:  cand.NextRenewalDate,
		Category:         cand.Category,
		Status:           status,
		Confidence:       cand.Confidence,
		RequiresReview:   requiresReview,
		CancellationLink: cand.CancellationLink,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if status == constants.StatusCancelled {
		sub.CancelledAt = &now
	}
	if cand.SourceEmailID != "" {
		sub.LastActivityEmailAt = &now
	}

	if err := uc.subRepo.Create(ctx, sub); err != nil {
		uc.log.Errorf("Failed to create subscription for user %d: %v", userID, err)
		return nil, "", err
	}

	uc.log.Infof("Subscription created: id=%s, userID=%d, status=%s", sub.ID, userID, sub.Status)
	return sub, effect, nil
}

// mergeCandidate 将候选合并到既有订阅: 每个变更字段先写一条历史再覆盖
// 历史先写, 订阅后写, 中途失败整体回滚
func (uc *SubscriptionUsecase) mergeCandidate(ctx context.Context, target *Subscription, cand *Candidate) (*Subscription, error) {
	now := uc.now().UTC()
	var merged *Subscription

	err := uc.tx.Exec(ctx, func(ctx context.Context) error {
		existing, err := uc.subRepo.GetByID(ctx, target.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			// 搜索与写入之间目标消失, 调用方应按新建重试
			return errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", target.ID)
		}

		var entries []*SubscriptionHistory

		if cand.Price != existing.Price {
			entries = append(entries, &SubscriptionHistory{
				SubscriptionID: existing.ID,
				ChangedAt:      now,
				ChangeType:     constants.ChangePrice,
				OldValue:       formatPrice(existing.Price),
				NewValue:       formatPrice(cand.Price),
				SourceEmailID:  cand.SourceEmailID,
			})
			existing.Price = cand.Price
		}

		if cand.NextRenewalDate != nil && !sameDate(existing.NextRenewalDate, cand.NextRenewalDate) {
			entries = append(entries, &SubscriptionHistory{
				SubscriptionID: existing.ID,
				ChangedAt:      now,
				ChangeType:     constants.ChangeRenewalDate,
				OldValue:       formatDate(existing.NextRenewalDate),
				NewValue:       formatDate(cand.NextRenewalDate),
				SourceEmailID:  cand.SourceEmailID,
			})
			existing.NextRenewalDate = cand.NextRenewalDate
		}

		if proposed := cand.proposedStatus(); statusChangeAllowed(existing, cand, proposed) {
			entries = append(entries, &SubscriptionHistory{
				SubscriptionID: existing.ID,
				ChangedAt:      now,
				ChangeType:     constants.ChangeStatus,
				OldValue:       existing.Status,
				NewValue:       proposed,
				SourceEmailID:  cand.SourceEmailID,
			})
			applyStatus(existing, proposed, now)
		}

		// 名称/分类/货币/周期仅在原值为空或未知时补全
		if existing.ServiceName == "" {
			existing.ServiceName = cand.ServiceName
		}
		if existing.Category == "" {
			existing.Category = cand.Category
		}
		if existing.Currency == "" {
			existing.Currency = strings.ToUpper(cand.Currency)
		}
		if existing.BillingCycle == "" || existing.BillingCycle == constants.CycleUnknown {
			if cand.BillingCycle != "" && cand.BillingCycle != constants.CycleUnknown {
				existing.BillingCycle = cand.BillingCycle
			}
		}
		if existing.CancellationLink == "" {
			existing.CancellationLink = cand.CancellationLink
		}
		if cand.Confidence > existing.Confidence {
			existing.Confidence = cand.Confidence
		}
		if cand.SourceEmailID != "" {
			existing.LastActivityEmailAt = &now
		}
		existing.UpdatedAt = now

		for _, h := range entries {
			if err := uc.historyRepo.AppendHistory(ctx, h); err != nil {
				return err
			}
		}
		if err := uc.subRepo.Update(ctx, existing); err != nil {
			return err
		}
		merged = existing
		return nil
	})
	if err != nil {
		uc.log.Errorf("Failed to merge candidate into subscription %s: %v", target.ID, err)
		return nil, err
	}

	uc.log.Infof("Subscription merged: id=%s, service=%q", merged.ID, merged.ServiceName)
	return merged, nil
}

// statusChangeAllowed 合并时是否采纳候选提出的状态
// 低置信度的再抽取不得翻转状态, 取消确认除外
func statusChangeAllowed(existing *Subscription, cand *Candidate, proposed string) bool {
	if proposed == existing.Status {
		return false
	}
	if cand.Confidence < constants.AutoConfidenceThreshold && !cand.IsCancellation {
		return false
	}
	return canTransition(existing.Status, proposed)
}

// canTransition 订阅状态机
// archived 为终态, 重新激活需要显式流程, 不在本服务范围内
func canTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case constants.StatusPendingReview:
		return to == constants.StatusActive || to == constants.StatusArchived
	case constants.StatusTrialActive:
		return to == constants.StatusActive || to == constants.StatusCancelled || to == constants.StatusArchived
	case constants.StatusActive:
		return to == constants.StatusCancelled || to == constants.StatusArchived
	case constants.StatusCancelled:
		return to == constants.StatusArchived
	}
	return false
}

// applyStatus 落实状态变更并维护关联字段
func applyStatus(sub *Subscription, status string, now time.Time) {
	if sub.Status == constants.StatusPendingReview && status == constants.StatusActive {
		sub.RequiresReview = false
	}
	if status == constants.StatusCancelled {
		sub.CancelledAt = &now
	}
	sub.Status = status
}

// UpdateStatus 显式状态变更, 总是先写历史再改订阅
// 新旧状态相同时直接成功且不写历史
func (uc *SubscriptionUsecase) UpdateStatus(ctx context.Context, id, newStatus, sourceEmailID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uc.log.Infof("UpdateStatus: id=%s, newStatus=%s", id, newStatus)

	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	if sub.Status == newStatus {
		return sub, nil
	}
	if !canTransition(sub.Status, newStatus) {
		return nil, errors.InvalidState(errors.ErrCodeInvalidTransition,
			"cannot transition subscription %s from %s to %s", id, sub.Status, newStatus)
	}

	now := uc.now().UTC()
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		if err := uc.historyRepo.AppendHistory(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			ChangedAt:      now,
			ChangeType:     constants.ChangeStatus,
			OldValue:       sub.Status,
			NewValue:       newStatus,
			SourceEmailID:  sourceEmailID,
		}); err != nil {
			return err
		}
		applyStatus(sub, newStatus, now)
		sub.UpdatedAt = now
		return uc.subRepo.Update(ctx, sub)
	})
	if err != nil {
		uc.log.Errorf("Failed to update status for subscription %s: %v", id, err)
		return nil, err
	}
	return sub, nil
}

// UpdatePrice 显式价格变更, 总是先写历史再改订阅
// 价格未变时直接成功且不写历史
func (uc *SubscriptionUsecase) UpdatePrice(ctx context.Context, id string, newPrice float64, sourceEmailID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uc.log.Infof("UpdatePrice: id=%s, newPrice=%.2f", id, newPrice)

	if newPrice < 0 {
		return nil, errors.Validation(errors.ErrCodeInvalidPrice, "price must be non-negative, got %v", newPrice)
	}

	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	if sub.Price == newPrice {
		return sub, nil
	}

	now := uc.now().UTC()
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		if err := uc.historyRepo.AppendHistory(ctx, &SubscriptionHistory{
			SubscriptionID: sub.ID,
			ChangedAt:      now,
			ChangeType:     constants.ChangePrice,
			OldValue:       formatPrice(sub.Price),
			NewValue:       formatPrice(newPrice),
			SourceEmailID:  sourceEmailID,
		}); err != nil {
			return err
		}
		sub.Price = newPrice
		sub.UpdatedAt = now
		return uc.subRepo.Update(ctx, sub)
	})
	if err != nil {
		uc.log.Errorf("Failed to update price for subscription %s: %v", id, err)
		return nil, err
	}
	return sub, nil
}

// ApproveSubscription 复核通过: pending_review -> active
func (uc *SubscriptionUsecase) ApproveSubscription(ctx context.Context, id string) (*Subscription, error) {
	uc.log.Infof("ApproveSubscription: id=%s", id)

	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	if sub.Status != constants.StatusPendingReview {
		return nil, errors.InvalidState(errors.ErrCodeInvalidTransition,
			"cannot approve subscription %s in status %s", id, sub.Status)
	}
	return uc.UpdateStatus(ctx, id, constants.StatusActive, "")
}

// RejectSubscription 复核驳回: pending_review -> archived
func (uc *SubscriptionUsecase) RejectSubscription(ctx context.Context, id string) (*Subscription, error) {
	uc.log.Infof("RejectSubscription: id=%s", id)

	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	if sub.Status != constants.StatusPendingReview {
		return nil, errors.InvalidState(errors.ErrCodeInvalidTransition,
			"cannot reject subscription %s in status %s", id, sub.Status)
	}
	return uc.UpdateStatus(ctx, id, constants.StatusArchived, "")
}

// CancelSubscription 用户主动取消: active/trial_active -> cancelled
func (uc *SubscriptionUsecase) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	uc.log.Infof("CancelSubscription: id=%s", id)

	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	if sub.Status != constants.StatusActive && sub.Status != constants.StatusTrialActive {
		return nil, errors.InvalidState(errors.ErrCodeInvalidTransition,
			"cannot cancel subscription %s in status %s", id, sub.Status)
	}
	return uc.UpdateStatus(ctx, id, constants.StatusCancelled, "")
}

// ArchiveByEmailAccount 邮箱账号断开时批量归档其下全部订阅
// 订阅行保留不删, 每条写一条合成历史
func (uc *SubscriptionUsecase) ArchiveByEmailAccount(ctx context.Context, accountID string) (int, error) {
	uc.log.Infof("ArchiveByEmailAccount: accountID=%s", accountID)

	subs, err := uc.subRepo.GetByEmailAccount(ctx, accountID)
	if err != nil {
		uc.log.Errorf("Failed to get subscriptions for account %s: %v", accountID, err)
		return 0, err
	}

	count := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if sub.Status == constants.StatusArchived {
			continue
		}

		sub := sub
		now := uc.now().UTC()
		err := uc.tx.Exec(ctx, func(ctx context.Context) error {
			if err := uc.historyRepo.AppendHistory(ctx, &SubscriptionHistory{
				SubscriptionID: sub.ID,
				ChangedAt:      now,
				ChangeType:     constants.ChangeStatus,
				OldValue:       sub.Status,
				NewValue:       constants.StatusArchived,
			}); err != nil {
				return err
			}
			applyStatus(sub, constants.StatusArchived, now)
			sub.UpdatedAt = now
			return uc.subRepo.Update(ctx, sub)
		})
		if err != nil {
			uc.log.Errorf("Failed to archive subscription %s: %v", sub.ID, err)
			continue
		}
		count++
	}

	uc.log.Infof("Archived %d subscriptions for account %s", count, accountID)
	return count, nil
}

// ExpireTrialSweep 试用到期转正: trial_active 且续费日已过 -> active
func (uc *SubscriptionUsecase) ExpireTrialSweep(ctx context.Context) (int, error) {
	uc.log.Infof("Starting trial conversion sweep")

	now := uc.now().UTC()
	subs, err := uc.subRepo.ListTrialsDue(ctx, now)
	if err != nil {
		uc.log.Errorf("Failed to list due trials: %v", err)
		return 0, err
	}

	count := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := uc.UpdateStatus(ctx, sub.ID, constants.StatusActive, ""); err != nil {
			uc.log.Errorf("Failed to convert trial %s: %v", sub.ID, err)
			continue
		}
		count++
	}

	uc.log.Infof("Converted %d trials", count)
	return count, nil
}

// GetMySubscriptions 获取用户全部订阅
func (uc *SubscriptionUsecase) GetMySubscriptions(ctx context.Context, userID uint64) ([]*Subscription, error) {
	return uc.subRepo.GetByUser(ctx, userID)
}

// GetSubscription 按 ID 获取订阅
func (uc *SubscriptionUsecase) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub, err := uc.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NotFound(errors.ErrCodeSubscriptionNotFound, "subscription %s not found", id)
	}
	return sub, nil
}

// MonthlySpend 按货币汇总未归档且未取消订阅的月度等价支出
// 含 unknown 周期的合计应视为近似值
func (uc *SubscriptionUsecase) MonthlySpend(ctx context.Context, userID uint64) (map[string]float64, error) {
	subs, err := uc.subRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64)
	for _, sub := range subs {
		if sub.Status == constants.StatusArchived || sub.Status == constants.StatusCancelled {
			continue
		}
		totals[sub.Currency] += NormalizeToMonthly(sub.Price, sub.BillingCycle)
	}
	return totals, nil
}

// lockUser 获取用户级分布式锁, 返回解锁函数
func (uc *SubscriptionUsecase) lockUser(ctx context.Context, prefix string, userID uint64, ttl time.Duration, tries int) (func(), error) {
	if uc.rs == nil {
		return func() {}, nil
	}

	mutex := uc.rs.NewMutex(
		fmt.Sprintf("%s:user:%d", prefix, userID),
		redsync.WithExpiry(ttl),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(constants.ReconcileLockRetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		uc.log.Infof("Lock busy for user %d: %v", userID, err)
		return nil, errors.Conflict(errors.ErrCodeUserBusy, "another task for user %d is in progress", userID)
	}
	return func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock for user %d: %v", userID, err)
		}
	}, nil
}

// proposedStatus 候选隐含的目标状态
func (c *Candidate) proposedStatus() string {
	switch {
	case c.IsCancellation:
		return constants.StatusCancelled
	case c.IsTrial:
		return constants.StatusTrialActive
	default:
		return constants.StatusActive
	}
}

func validateCandidate(cand *Candidate) error {
	if cand.Price < 0 {
		return errors.Validation(errors.ErrCodeInvalidPrice, "price must be non-negative, got %v", cand.Price)
	}
	if cand.Currency != "" && !isCurrencyCode(cand.Currency) {
		return errors.Validation(errors.ErrCodeInvalidCurrency, "currency must be a 3-letter code, got %q", cand.Currency)
	}
	if cand.Confidence < 0 || cand.Confidence > 1 {
		return errors.Validation(errors.ErrCodeInvalidConfidence, "confidence must be in [0.0, 1.0], got %v", cand.Confidence)
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
