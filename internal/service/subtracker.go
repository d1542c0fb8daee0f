package service

import (
	"context"
	"time"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/errors"
)

// SubTrackerService 订阅追踪服务门面, 只做 DTO 映射, 业务全部在 biz 层
type SubTrackerService struct {
	uc      *biz.SubscriptionUsecase
	alertUc *biz.AlertUsecase
}

// NewSubTrackerService 创建订阅追踪服务实例
func NewSubTrackerService(uc *biz.SubscriptionUsecase, alertUc *biz.AlertUsecase) *SubTrackerService {
	return &SubTrackerService{uc: uc, alertUc: alertUc}
}

// ExtractionPayload AI 抽取结果载荷
type ExtractionPayload struct {
	ServiceName      string             `json:"service_name"`
	Price            float64            `json:"price"`
	Currency         string             `json:"currency"`
	BillingCycle     string             `json:"billing_cycle"`
	NextRenewalDate  string             `json:"next_renewal_date,omitempty"` // 2006-01-02
	Category         string             `json:"category,omitempty"`
	CancellationLink string             `json:"cancellation_link,omitempty"`
	ConfidenceScore  float64            `json:"confidence_score"`
	FieldConfidences map[string]float64 `json:"field_confidences,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	IsTrial          bool               `json:"is_trial,omitempty"`
	IsCancellation   bool               `json:"is_cancellation,omitempty"`
}

// ReconcileRequest 对账请求 (抽取结果或手动录入)
type ReconcileRequest struct {
	UserID         uint64            `json:"user_id"`
	EmailAccountID string            `json:"email_account_id,omitempty"`
	SourceEmailID  string            `json:"source_email_id,omitempty"`
	Manual         bool              `json:"manual,omitempty"`
	Extraction     ExtractionPayload `json:"extraction"`
}

// ReconcileReply 对账响应
type ReconcileReply struct {
	Subscription *SubscriptionDTO `json:"subscription"`
	Effect       string           `json:"effect"` // created, merged, reviewed
}

// SubscriptionDTO 订阅响应体
type SubscriptionDTO struct {
	ID                  string  `json:"id"`
	UserID              uint64  `json:"user_id"`
	EmailAccountID      string  `json:"email_account_id,omitempty"`
	ServiceName         string  `json:"service_name"`
	Price               float64 `json:"price"`
	Currency            string  `json:"currency"`
	BillingCycle        string  `json:"billing_cycle"`
	NextRenewalDate     string  `json:"next_renewal_date,omitempty"`
	Category            string  `json:"category,omitempty"`
	Status              string  `json:"status"`
	Confidence          float64 `json:"confidence"`
	RequiresReview      bool    `json:"requires_review"`
	CancellationLink    string  `json:"cancellation_link,omitempty"`
	LastActivityEmailAt string  `json:"last_activity_email_at,omitempty"`
	CancelledAt         string  `json:"cancelled_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

// HistoryDTO 历史记录响应体
type HistoryDTO struct {
	ID            uint64 `json:"id"`
	ChangedAt     string `json:"changed_at"`
	ChangeType    string `json:"change_type"`
	OldValue      string `json:"old_value"`
	NewValue      string `json:"new_value"`
	SourceEmailID string `json:"source_email_id,omitempty"`
}

// AlertDTO 提醒响应体
type AlertDTO struct {
	ID             string                 `json:"id"`
	UserID         uint64                 `json:"user_id"`
	SubscriptionID string                 `json:"subscription_id"`
	Type           string                 `json:"type"`
	Message        string                 `json:"message"`
	ScheduledFor   string                 `json:"scheduled_for"`
	SentAt         string                 `json:"sent_at,omitempty"`
	Status         string                 `json:"status"`
	RetryCount     int                    `json:"retry_count"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Reconcile 对账: 新建/合并/标记复核
func (s *SubTrackerService) Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileReply, error) {
	cand := &biz.Candidate{
		ServiceName:      req.Extraction.ServiceName,
		Price:            req.Extraction.Price,
		Currency:         req.Extraction.Currency,
		BillingCycle:     req.Extraction.BillingCycle,
		Category:         req.Extraction.Category,
		CancellationLink: req.Extraction.CancellationLink,
		Confidence:       req.Extraction.ConfidenceScore,
		FieldConfidences: req.Extraction.FieldConfidences,
		Warnings:         req.Extraction.Warnings,
		IsTrial:          req.Extraction.IsTrial,
		IsCancellation:   req.Extraction.IsCancellation,
		EmailAccountID:   req.EmailAccountID,
		SourceEmailID:    req.SourceEmailID,
		Manual:           req.Manual,
	}
	if req.Extraction.NextRenewalDate != "" {
		d, err := time.Parse("2006-01-02", req.Extraction.NextRenewalDate)
		if err != nil {
			return nil, errors.Validation(errors.ErrCodeInvalidRenewalDate, "invalid next_renewal_date %q", req.Extraction.NextRenewalDate)
		}
		cand.NextRenewalDate = &d
	}

	sub, effect, err := s.uc.Reconcile(ctx, req.UserID, cand)
	if err != nil {
		return nil, err
	}
	return &ReconcileReply{Subscription: subToDTO(sub), Effect: effect}, nil
}

// ListSubscriptions 获取用户全部订阅
func (s *SubTrackerService) ListSubscriptions(ctx context.Context, userID uint64) ([]*SubscriptionDTO, error) {
	subs, err := s.uc.GetMySubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*SubscriptionDTO, len(subs))
	for i, sub := range subs {
		out[i] = subToDTO(sub)
	}
	return out, nil
}

// GetSubscription 获取单个订阅
func (s *SubTrackerService) GetSubscription(ctx context.Context, id string) (*SubscriptionDTO, error) {
	sub, err := s.uc.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return subToDTO(sub), nil
}

// GetSubscriptionHistory 分页获取订阅历史
func (s *SubTrackerService) GetSubscriptionHistory(ctx context.Context, id string, page, pageSize int) ([]*HistoryDTO, int, error) {
	items, total, err := s.uc.GetSubscriptionHistory(ctx, id, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*HistoryDTO, len(items))
	for i, h := range items {
		out[i] = &HistoryDTO{
			ID:            h.ID,
			ChangedAt:     h.ChangedAt.Format(time.RFC3339),
			ChangeType:    h.ChangeType,
			OldValue:      h.OldValue,
			NewValue:      h.NewValue,
			SourceEmailID: h.SourceEmailID,
		}
	}
	return out, total, nil
}

// ApproveSubscription 复核通过
func (s *SubTrackerService) ApproveSubscription(ctx context.Context, id string) (*SubscriptionDTO, error) {
	sub, err := s.uc.ApproveSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return subToDTO(sub), nil
}

// RejectSubscription 复核驳回
func (s *SubTrackerService) RejectSubscription(ctx context.Context, id string) (*SubscriptionDTO, error) {
	sub, err := s.uc.RejectSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return subToDTO(sub), nil
}

// CancelSubscription 用户取消订阅
func (s *SubTrackerService) CancelSubscription(ctx context.Context, id string) (*SubscriptionDTO, error) {
	sub, err := s.uc.CancelSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return subToDTO(sub), nil
}

// ArchiveAccount 邮箱账号断开, 批量归档
func (s *SubTrackerService) ArchiveAccount(ctx context.Context, accountID string) (int, error) {
	return s.uc.ArchiveByEmailAccount(ctx, accountID)
}

// MonthlySpend 按货币汇总月度等价支出
func (s *SubTrackerService) MonthlySpend(ctx context.Context, userID uint64) (map[string]float64, error) {
	return s.uc.MonthlySpend(ctx, userID)
}

// GenerateAlerts 触发提醒生成; userID=0 表示全量
func (s *SubTrackerService) GenerateAlerts(ctx context.Context, userID uint64) (*biz.GenerateSummary, error) {
	if userID == 0 {
		return s.alertUc.GenerateAlertsForAllUsers(ctx)
	}
	return s.alertUc.GenerateAlerts(ctx, userID)
}

// PendingAlerts 投递侧轮询待发送提醒
func (s *SubTrackerService) PendingAlerts(ctx context.Context, asOf time.Time) ([]*AlertDTO, error) {
	alerts, err := s.alertUc.GetPendingAlerts(ctx, asOf)
	if err != nil {
		return nil, err
	}
	out := make([]*AlertDTO, len(alerts))
	for i, a := range alerts {
		out[i] = alertToDTO(a)
	}
	return out, nil
}

// SnoozeAlert 延后提醒
func (s *SubTrackerService) SnoozeAlert(ctx context.Context, id string, hours int) (*AlertDTO, error) {
	alert, err := s.alertUc.SnoozeAlert(ctx, id, hours)
	if err != nil {
		return nil, err
	}
	return alertToDTO(alert), nil
}

// DismissAlert 撤销提醒
func (s *SubTrackerService) DismissAlert(ctx context.Context, id string) error {
	return s.alertUc.DismissAlert(ctx, id)
}

// MarkAlertSent 投递侧回报发送成功
func (s *SubTrackerService) MarkAlertSent(ctx context.Context, id string) error {
	return s.alertUc.MarkSent(ctx, id)
}

// MarkAlertFailed 投递侧回报发送失败
func (s *SubTrackerService) MarkAlertFailed(ctx context.Context, id string) error {
	return s.alertUc.MarkFailed(ctx, id)
}

func subToDTO(sub *biz.Subscription) *SubscriptionDTO {
	dto := &SubscriptionDTO{
		ID:               sub.ID,
		UserID:           sub.UserID,
		EmailAccountID:   sub.EmailAccountID,
		ServiceName:      sub.ServiceName,
		Price:            sub.Price,
		Currency:         sub.Currency,
		BillingCycle:     sub.BillingCycle,
		Category:         sub.Category,
		Status:           sub.Status,
		Confidence:       sub.Confidence,
		RequiresReview:   sub.RequiresReview,
		CancellationLink: sub.CancellationLink,
		CreatedAt:        sub.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        sub.UpdatedAt.Format(time.RFC3339),
	}
	if sub.NextRenewalDate != nil {
		dto.NextRenewalDate = sub.NextRenewalDate.Format("2006-01-02")
	}
	if sub.LastActivityEmailAt != nil {
		dto.LastActivityEmailAt = sub.LastActivityEmailAt.Format(time.RFC3339)
	}
	if sub.CancelledAt != nil {
		dto.CancelledAt = sub.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

func alertToDTO(a *biz.Alert) *AlertDTO {
	dto := &AlertDTO{
		ID:             a.ID,
		UserID:         a.UserID,
		SubscriptionID: a.SubscriptionID,
		Type:           a.Type,
		Message:        a.Message,
		ScheduledFor:   a.ScheduledFor.Format(time.RFC3339),
		Status:         a.Status,
		RetryCount:     a.RetryCount,
		Metadata:       a.Metadata,
	}
	if a.SentAt != nil {
		dto.SentAt = a.SentAt.Format(time.RFC3339)
	}
	return dto
}
