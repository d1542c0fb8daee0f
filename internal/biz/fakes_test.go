package biz

import (
	"context"
	"sync"
	"time"

	"xinyuan_tech/subtracker-service/internal/constants"
)

// 内存仓库实现, 测试用
// 全量生成测试会并发访问, 所有方法持锁

type memStore struct {
	mu      sync.Mutex
	subs    []*Subscription
	history []*SubscriptionHistory
	alerts  []*Alert
	prefs   map[uint64]*UserPreferences

	nextHistoryID uint64
}

func newMemStore() *memStore {
	return &memStore{prefs: make(map[uint64]*UserPreferences)}
}

func copySub(s *Subscription) *Subscription {
	c := *s
	return &c
}

func copyAlert(a *Alert) *Alert {
	c := *a
	return &c
}

type memSubRepo struct{ s *memStore }

func (r *memSubRepo) GetByUser(_ context.Context, userID uint64) ([]*Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.s.subs {
		if sub.UserID == userID {
			out = append(out, copySub(sub))
		}
	}
	return out, nil
}

func (r *memSubRepo) GetByID(_ context.Context, id string) (*Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.ID == id {
			return copySub(sub), nil
		}
	}
	return nil, nil
}

func (r *memSubRepo) GetByEmailAccount(_ context.Context, accountID string) ([]*Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.s.subs {
		if sub.EmailAccountID == accountID {
			out = append(out, copySub(sub))
		}
	}
	return out, nil
}

func (r *memSubRepo) Create(_ context.Context, sub *Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subs = append(r.s.subs, copySub(sub))
	return nil
}

func (r *memSubRepo) Update(_ context.Context, sub *Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, existing := range r.s.subs {
		if existing.ID == sub.ID {
			r.s.subs[i] = copySub(sub)
			return nil
		}
	}
	return nil
}

func (r *memSubRepo) ListUserIDs(_ context.Context) ([]uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uint64]bool)
	var out []uint64
	for _, sub := range r.s.subs {
		if sub.Status == constants.StatusArchived {
			continue
		}
		if !seen[sub.UserID] {
			seen[sub.UserID] = true
			out = append(out, sub.UserID)
		}
	}
	return out, nil
}

func (r *memSubRepo) ListTrialsDue(_ context.Context, asOf time.Time) ([]*Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.s.subs {
		if sub.Status != constants.StatusTrialActive || sub.NextRenewalDate == nil {
			continue
		}
		if !sub.NextRenewalDate.After(asOf) {
			out = append(out, copySub(sub))
		}
	}
	return out, nil
}

type memHistoryRepo struct{ s *memStore }

func (r *memHistoryRepo) AppendHistory(_ context.Context, h *SubscriptionHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextHistoryID++
	h.ID = r.s.nextHistoryID
	c := *h
	r.s.history = append(r.s.history, &c)
	return nil
}

func (r *memHistoryRepo) GetHistory(_ context.Context, subscriptionID string) ([]*SubscriptionHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.historyLocked(subscriptionID), nil
}

func (r *memHistoryRepo) GetHistoryPage(_ context.Context, subscriptionID string, page, pageSize int) ([]*SubscriptionHistory, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.historyLocked(subscriptionID)
	total := len(all)

	// 降序分页
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *memHistoryRepo) historyLocked(subscriptionID string) []*SubscriptionHistory {
	var out []*SubscriptionHistory
	for _, h := range r.s.history {
		if h.SubscriptionID == subscriptionID {
			c := *h
			out = append(out, &c)
		}
	}
	return out
}

type memAlertRepo struct{ s *memStore }

func (r *memAlertRepo) FindActive(_ context.Context, subscriptionID, alertType string, sentSince time.Time) (*Alert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.alerts {
		if a.SubscriptionID != subscriptionID || a.Type != alertType {
			continue
		}
		switch a.Status {
		case constants.AlertStatusPending, constants.AlertStatusSnoozed, constants.AlertStatusFailed:
			return copyAlert(a), nil
		case constants.AlertStatusSent:
			if a.SentAt != nil && !a.SentAt.Before(sentSince) {
				return copyAlert(a), nil
			}
		}
	}
	return nil, nil
}

func (r *memAlertRepo) Create(_ context.Context, alert *Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.alerts = append(r.s.alerts, copyAlert(alert))
	return nil
}

func (r *memAlertRepo) Update(_ context.Context, alert *Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, existing := range r.s.alerts {
		if existing.ID == alert.ID {
			r.s.alerts[i] = copyAlert(alert)
			return nil
		}
	}
	return nil
}

func (r *memAlertRepo) GetByID(_ context.Context, id string) (*Alert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.alerts {
		if a.ID == id {
			return copyAlert(a), nil
		}
	}
	return nil, nil
}

func (r *memAlertRepo) GetPending(_ context.Context, asOf time.Time) ([]*Alert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Alert
	for _, a := range r.s.alerts {
		if a.Status != constants.AlertStatusPending && a.Status != constants.AlertStatusSnoozed {
			continue
		}
		if !a.ScheduledFor.After(asOf) {
			out = append(out, copyAlert(a))
		}
	}
	return out, nil
}

type memPrefsRepo struct{ s *memStore }

func (r *memPrefsRepo) GetPreferences(_ context.Context, userID uint64) (*UserPreferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.prefs[userID]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

type nopTx struct{}

func (nopTx) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
