package biz

import (
	"strconv"
	"time"

	"xinyuan_tech/subtracker-service/internal/constants"
)

// RuleConfig 规则评估参数
type RuleConfig struct {
	RenewalWindowDays   int
	RenewalReminderDays int
	UnusedMonths        int
}

// DefaultRuleConfig 默认规则参数
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		RenewalWindowDays:   constants.DefaultRenewalWindowDays,
		RenewalReminderDays: constants.DefaultRenewalReminderDays,
		UnusedMonths:        constants.DefaultUnusedMonths,
	}
}

// 四个规则评估器都是纯函数: 相同输入必得相同输出, 时间由调用方注入
// 去重交给调度器, 评估器之间相互独立且与顺序无关

// EvaluateRenewalWindow 续费窗口规则
// 采用 "daysUntil <= N 且窗口内未提醒过" 语义, 漏跑一次调度不丢提醒;
// 试用订阅的临近档由 EvaluateTrialEnding 产出, 此处跳过
func EvaluateRenewalWindow(subs []*Subscription, now time.Time, cfg RuleConfig) []*AlertCandidate {
	var out []*AlertCandidate
	for _, sub := range subs {
		if sub.Status != constants.StatusActive && sub.Status != constants.StatusTrialActive {
			continue
		}
		if sub.NextRenewalDate == nil {
			continue
		}

		d := daysUntil(now, *sub.NextRenewalDate)
		if d <= 0 || d > cfg.RenewalWindowDays {
			continue
		}

		reminder := d <= cfg.RenewalReminderDays
		if reminder && sub.Status == constants.StatusTrialActive {
			continue
		}

		out = append(out, &AlertCandidate{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			BillingCycle:   sub.BillingCycle,
			FireDate:       now,
			Content: RenewalContent{
				RenewalDate: *sub.NextRenewalDate,
				Price:       sub.Price,
				Currency:    sub.Currency,
				DaysUntil:   d,
				Reminder:    reminder,
			},
		})
	}
	return out
}

// EvaluateTrialEnding 试用到期规则
// 临近档内的试用订阅产出 trial_ending, 优先于普通续费提醒
// 到期当天 (d == 0) 仍计入, 这是转正扣费前的最后提醒机会
func EvaluateTrialEnding(subs []*Subscription, now time.Time, cfg RuleConfig) []*AlertCandidate {
	var out []*AlertCandidate
	for _, sub := range subs {
		if sub.Status != constants.StatusTrialActive {
			continue
		}
		if sub.NextRenewalDate == nil {
			continue
		}

		d := daysUntil(now, *sub.NextRenewalDate)
		if d < 0 || d > cfg.RenewalReminderDays {
			continue
		}

		out = append(out, &AlertCandidate{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			BillingCycle:   sub.BillingCycle,
			FireDate:       now,
			Content: TrialEndingContent{
				TrialEndDate:   *sub.NextRenewalDate,
				PostTrialPrice: sub.Price,
				Currency:       sub.Currency,
			},
		})
	}
	return out
}

// EvaluatePriceIncrease 涨价规则
// 每个订阅每轮只看最新一条 price_change 历史; 已提醒过的涨幅由调度器去重
func EvaluatePriceIncrease(subs []*Subscription, history map[string][]*SubscriptionHistory, now time.Time) []*AlertCandidate {
	var out []*AlertCandidate
	for _, sub := range subs {
		if sub.Status == constants.StatusArchived {
			continue
		}

		latest := latestPriceChange(history[sub.ID])
		if latest == nil {
			continue
		}

		oldPrice, err1 := strconv.ParseFloat(latest.OldValue, 64)
		newPrice, err2 := strconv.ParseFloat(latest.NewValue, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if newPrice <= oldPrice || oldPrice <= 0 {
			continue
		}

		out = append(out, &AlertCandidate{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			BillingCycle:   sub.BillingCycle,
			FireDate:       now,
			Immediate:      true,
			Content: PriceIncreaseContent{
				OldPrice:  oldPrice,
				NewPrice:  newPrice,
				PctChange: (newPrice - oldPrice) / oldPrice * 100,
				Currency:  sub.Currency,
			},
		})
	}
	return out
}

// EvaluateUnused 闲置规则
// 最近活跃邮件超过 N 个月, 或从未有活跃邮件且建档超过 N 个月 (视为从未使用)
func EvaluateUnused(subs []*Subscription, now time.Time, cfg RuleConfig) []*AlertCandidate {
	cutoff := now.AddDate(0, -cfg.UnusedMonths, 0)

	var out []*AlertCandidate
	for _, sub := range subs {
		if sub.Status != constants.StatusActive {
			continue
		}

		unused := false
		if sub.LastActivityEmailAt != nil {
			unused = sub.LastActivityEmailAt.Before(cutoff)
		} else {
			unused = sub.CreatedAt.Before(cutoff)
		}
		if !unused {
			continue
		}

		out = append(out, &AlertCandidate{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			BillingCycle:   sub.BillingCycle,
			FireDate:       now,
			Content: UnusedContent{
				LastActivityAt: sub.LastActivityEmailAt,
				MonthlyPrice:   NormalizeToMonthly(sub.Price, sub.BillingCycle),
				Currency:       sub.Currency,
			},
		})
	}
	return out
}

// latestPriceChange 返回最新的一条价格变更历史 (history 按 changed_at 升序)
func latestPriceChange(items []*SubscriptionHistory) *SubscriptionHistory {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].ChangeType == constants.ChangePrice {
			return items[i]
		}
	}
	return nil
}

// daysUntil 按日历天数计算距目标日期的天数
func daysUntil(now, target time.Time) int {
	ny, nm, nd := now.UTC().Date()
	ty, tm, td := target.UTC().Date()
	a := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
