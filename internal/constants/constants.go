package constants

import "time"

// 分页相关常量
const (
	// DefaultPageSize 默认分页大小
	DefaultPageSize = 10
	// MaxPageSize 最大分页大小
	MaxPageSize = 100
)

// 订阅状态
const (
	StatusActive        = "active"
	StatusCancelled     = "cancelled"
	StatusArchived      = "archived"
	StatusPendingReview = "pending_review"
	StatusTrialActive   = "trial_active"
)

// 计费周期
const (
	CycleWeekly    = "weekly"
	CycleMonthly   = "monthly"
	CycleQuarterly = "quarterly"
	CycleAnnual    = "annual"
	CycleUnknown   = "unknown"
)

// 历史记录变更类型
const (
	ChangePrice       = "price_change"
	ChangeRenewalDate = "renewal_date_update"
	ChangeStatus      = "status_change"
)

// 提醒类型
const (
	AlertRenewal7Days  = "renewal_upcoming_7d"
	AlertRenewal3Days  = "renewal_upcoming_3d"
	AlertPriceIncrease = "price_increase"
	AlertTrialEnding   = "trial_ending"
	AlertUnused        = "unused_subscription"
)

// 提醒状态
const (
	AlertStatusPending   = "pending"
	AlertStatusSent      = "sent"
	AlertStatusFailed    = "failed"
	AlertStatusSnoozed   = "snoozed"
	AlertStatusDismissed = "dismissed"
)

// 对账与调度相关常量
const (
	// DuplicateThreshold 模糊匹配去重阈值
	DuplicateThreshold = 0.85
	// AutoConfidenceThreshold 自动入库置信度阈值
	AutoConfidenceThreshold = 0.85
	// ReviewConfidenceThreshold 低置信度人工复核阈值
	ReviewConfidenceThreshold = 0.60
	// DefaultRenewalWindowDays 续费提醒提前天数
	DefaultRenewalWindowDays = 7
	// DefaultRenewalReminderDays 临近续费二次提醒提前天数
	DefaultRenewalReminderDays = 3
	// DefaultUnusedMonths 闲置订阅判定月数
	DefaultUnusedMonths = 6
	// DefaultAlertSendHour 提醒默认发送时刻 (本地时间)
	DefaultAlertSendHour = 9
	// DefaultSnoozeHours 默认延后小时数
	DefaultSnoozeHours = 24
	// DefaultAlertWorkers 提醒生成默认并发数
	DefaultAlertWorkers = 8
)

// 分布式锁相关常量
const (
	// ReconcileLockExpiration 对账锁过期时间
	ReconcileLockExpiration = time.Minute
	// ReconcileLockRetries 对账锁重试次数
	ReconcileLockRetries = 8
	// ReconcileLockRetryDelay 对账锁重试间隔
	ReconcileLockRetryDelay = 250 * time.Millisecond
	// AlertGenLockExpiration 提醒生成锁过期时间
	AlertGenLockExpiration = 5 * time.Minute
	// AlertGenLockRetries 提醒生成锁重试次数 (只尝试一次,失败说明正在处理)
	AlertGenLockRetries = 1
)
