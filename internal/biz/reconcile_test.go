package biz

import (
	"context"
	"math"
	"testing"
	"time"

	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestSubscriptionUsecase(store *memStore) *SubscriptionUsecase {
	uc := NewSubscriptionUsecase(
		&memSubRepo{s: store},
		&memHistoryRepo{s: store},
		nopTx{},
		nil,
		log.DefaultLogger,
	)
	uc.now = func() time.Time { return testNow }
	return uc
}

func seedSubscription(store *memStore, sub *Subscription) *Subscription {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = testNow.Add(-30 * 24 * time.Hour)
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	store.subs = append(store.subs, sub)
	return sub
}

func historyFor(store *memStore, subID string) []*SubscriptionHistory {
	var out []*SubscriptionHistory
	for _, h := range store.history {
		if h.SubscriptionID == subID {
			out = append(out, h)
		}
	}
	return out
}

func TestReconcileCreatesNewSubscription(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	renewal := testNow.Add(20 * 24 * time.Hour)
	sub, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:     "Netflix",
		Price:           15.99,
		Currency:        "usd",
		BillingCycle:    constants.CycleMonthly,
		NextRenewalDate: &renewal,
		Confidence:      0.95,
		EmailAccountID:  "acc-1",
		SourceEmailID:   "email-1",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if effect != EffectCreated {
		t.Errorf("effect = %q, want %q", effect, EffectCreated)
	}
	if sub.Status != constants.StatusActive {
		t.Errorf("status = %q, want %q", sub.Status, constants.StatusActive)
	}
	if sub.RequiresReview {
		t.Error("high-confidence candidate should not require review")
	}
	if sub.Currency != "USD" {
		t.Errorf("currency = %q, want USD", sub.Currency)
	}
	if sub.ID == "" {
		t.Error("subscription ID not assigned")
	}
	if sub.LastActivityEmailAt == nil {
		t.Error("LastActivityEmailAt should be set when source email present")
	}
	if len(store.subs) != 1 {
		t.Fatalf("store has %d subscriptions, want 1", len(store.subs))
	}
}

func TestReconcileDefaultsUnknownCycle(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	sub, _, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName: "Mystery Service",
		Price:       4.99,
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sub.BillingCycle != constants.CycleUnknown {
		t.Errorf("billing cycle = %q, want %q", sub.BillingCycle, constants.CycleUnknown)
	}
}

func TestReconcileConfidenceGating(t *testing.T) {
	tests := []struct {
		name           string
		confidence     float64
		wantStatus     string
		wantEffect     string
		requiresReview bool
	}{
		{"auto", 0.90, constants.StatusActive, EffectCreated, false},
		{"boundary auto", 0.85, constants.StatusActive, EffectCreated, false},
		{"review band", 0.70, constants.StatusPendingReview, EffectReviewed, true},
		{"boundary review", 0.60, constants.StatusPendingReview, EffectReviewed, true},
		{"low triage", 0.30, constants.StatusPendingReview, EffectReviewed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			uc := newTestSubscriptionUsecase(store)

			sub, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
				ServiceName: "Spotify",
				Price:       9.99,
				Confidence:  tt.confidence,
			})
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if sub.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", sub.Status, tt.wantStatus)
			}
			if effect != tt.wantEffect {
				t.Errorf("effect = %q, want %q", effect, tt.wantEffect)
			}
			if sub.RequiresReview != tt.requiresReview {
				t.Errorf("requiresReview = %v, want %v", sub.RequiresReview, tt.requiresReview)
			}
		})
	}
}

func TestReconcileManualDefaultsFullConfidence(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	sub, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName: "Gym Membership",
		Price:       29.99,
		Manual:      true,
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if effect != EffectCreated {
		t.Errorf("effect = %q, want %q", effect, EffectCreated)
	}
	if sub.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", sub.Confidence)
	}
	if sub.Status != constants.StatusActive {
		t.Errorf("status = %q, want %q", sub.Status, constants.StatusActive)
	}
}

func TestReconcileValidation(t *testing.T) {
	tests := []struct {
		name string
		cand *Candidate
	}{
		{"negative price", &Candidate{ServiceName: "X", Price: -1, Confidence: 0.9}},
		{"bad currency", &Candidate{ServiceName: "X", Price: 1, Currency: "EURO", Confidence: 0.9}},
		{"confidence above one", &Candidate{ServiceName: "X", Price: 1, Confidence: 1.5}},
		{"negative confidence", &Candidate{ServiceName: "X", Price: 1, Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			uc := newTestSubscriptionUsecase(store)

			_, _, err := uc.Reconcile(context.Background(), 1, tt.cand)
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if len(store.subs) != 0 {
				t.Error("invalid candidate must not be stored")
			}
		})
	}
}

func TestReconcileMergesFuzzyDuplicate(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	existing := seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		BillingCycle:   constants.CycleMonthly,
		Status:         constants.StatusActive,
		Confidence:     0.95,
	})

	sub, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "netflix ",
		Price:          17.99,
		Currency:       "USD",
		BillingCycle:   constants.CycleMonthly,
		Confidence:     0.90,
		EmailAccountID: "acc-1",
		SourceEmailID:  "email-2",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if effect != EffectMerged {
		t.Errorf("effect = %q, want %q", effect, EffectMerged)
	}
	if sub.ID != existing.ID {
		t.Errorf("merged into %q, want %q", sub.ID, existing.ID)
	}
	if sub.Price != 17.99 {
		t.Errorf("price = %v, want 17.99", sub.Price)
	}
	if sub.ServiceName != "Netflix" {
		t.Errorf("existing service name overwritten: %q", sub.ServiceName)
	}
	if sub.Confidence != 0.95 {
		t.Errorf("confidence = %v, want max of both (0.95)", sub.Confidence)
	}
	if sub.LastActivityEmailAt == nil || !sub.LastActivityEmailAt.Equal(testNow) {
		t.Errorf("LastActivityEmailAt = %v, want %v", sub.LastActivityEmailAt, testNow)
	}
	if len(store.subs) != 1 {
		t.Fatalf("store has %d subscriptions, want 1", len(store.subs))
	}

	entries := historyFor(store, existing.ID)
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	h := entries[0]
	if h.ChangeType != constants.ChangePrice {
		t.Errorf("change type = %q, want %q", h.ChangeType, constants.ChangePrice)
	}
	if h.OldValue != "15.99" || h.NewValue != "17.99" {
		t.Errorf("history values = %q -> %q, want 15.99 -> 17.99", h.OldValue, h.NewValue)
	}
	if h.SourceEmailID != "email-2" {
		t.Errorf("history source email = %q, want email-2", h.SourceEmailID)
	}
}

func TestReconcileMergeIdempotent(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		BillingCycle:   constants.CycleMonthly,
		Status:         constants.StatusActive,
		Confidence:     0.95,
	})

	// 同一封邮件重复投递: 值未变, 不得新增历史
	for i := 0; i < 2; i++ {
		_, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
			ServiceName:    "Netflix",
			Price:          15.99,
			Currency:       "USD",
			BillingCycle:   constants.CycleMonthly,
			Confidence:     0.95,
			EmailAccountID: "acc-1",
			SourceEmailID:  "email-dup",
		})
		if err != nil {
			t.Fatalf("Reconcile run %d failed: %v", i, err)
		}
		if effect != EffectMerged {
			t.Errorf("run %d effect = %q, want %q", i, effect, EffectMerged)
		}
	}
	if len(store.subs) != 1 {
		t.Fatalf("store has %d subscriptions, want 1", len(store.subs))
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 0 {
		t.Errorf("no-op merges wrote %d history entries", len(entries))
	}
}

func TestReconcileScopesDuplicatesToAccount(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Status:         constants.StatusActive,
		Confidence:     0.95,
	})

	// 另一邮箱账号下的同名服务是独立订阅
	_, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Confidence:     0.95,
		EmailAccountID: "acc-2",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if effect != EffectCreated {
		t.Errorf("effect = %q, want %q", effect, EffectCreated)
	}
	if len(store.subs) != 2 {
		t.Errorf("store has %d subscriptions, want 2", len(store.subs))
	}
}

func TestReconcileIgnoresArchivedDuplicates(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Status:         constants.StatusArchived,
		Confidence:     0.95,
	})

	_, effect, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Confidence:     0.95,
		EmailAccountID: "acc-1",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if effect != EffectCreated {
		t.Errorf("effect = %q, want %q", effect, EffectCreated)
	}
}

func TestReconcileMergeRenewalDateChange(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	oldDate := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	newDate := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	seedSubscription(store, &Subscription{
		ID:              "sub-1",
		UserID:          1,
		EmailAccountID:  "acc-1",
		ServiceName:     "Spotify",
		Price:           9.99,
		Currency:        "USD",
		NextRenewalDate: &oldDate,
		Status:          constants.StatusActive,
		Confidence:      0.95,
	})

	sub, _, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:     "Spotify",
		Price:           9.99,
		Currency:        "USD",
		NextRenewalDate: &newDate,
		Confidence:      0.95,
		EmailAccountID:  "acc-1",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sub.NextRenewalDate == nil || !sub.NextRenewalDate.Equal(newDate) {
		t.Errorf("renewal date = %v, want %v", sub.NextRenewalDate, newDate)
	}

	entries := historyFor(store, "sub-1")
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	if entries[0].ChangeType != constants.ChangeRenewalDate {
		t.Errorf("change type = %q, want %q", entries[0].ChangeType, constants.ChangeRenewalDate)
	}
	if entries[0].OldValue != "2026-09-15" || entries[0].NewValue != "2026-10-15" {
		t.Errorf("history values = %q -> %q", entries[0].OldValue, entries[0].NewValue)
	}
}

func TestReconcileMergeStatusConfidenceGate(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Status:         constants.StatusActive,
		Confidence:     0.95,
	})

	// 低置信度的普通再抽取不得翻转状态
	sub, _, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Confidence:     0.70,
		IsTrial:        false,
		EmailAccountID: "acc-1",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sub.Status != constants.StatusActive {
		t.Errorf("status = %q, want unchanged active", sub.Status)
	}

	// 低置信度的取消确认例外放行
	sub, _, err = uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		Confidence:     0.70,
		IsCancellation: true,
		EmailAccountID: "acc-1",
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sub.Status != constants.StatusCancelled {
		t.Errorf("status = %q, want %q", sub.Status, constants.StatusCancelled)
	}
	if sub.CancelledAt == nil {
		t.Error("CancelledAt should be set on cancellation")
	}

	entries := historyFor(store, "sub-1")
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	if entries[0].ChangeType != constants.ChangeStatus {
		t.Errorf("change type = %q, want %q", entries[0].ChangeType, constants.ChangeStatus)
	}
	if entries[0].OldValue != constants.StatusActive || entries[0].NewValue != constants.StatusCancelled {
		t.Errorf("history values = %q -> %q", entries[0].OldValue, entries[0].NewValue)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{constants.StatusPendingReview, constants.StatusActive, true},
		{constants.StatusPendingReview, constants.StatusArchived, true},
		{constants.StatusPendingReview, constants.StatusCancelled, false},
		{constants.StatusTrialActive, constants.StatusActive, true},
		{constants.StatusTrialActive, constants.StatusCancelled, true},
		{constants.StatusTrialActive, constants.StatusArchived, true},
		{constants.StatusActive, constants.StatusCancelled, true},
		{constants.StatusActive, constants.StatusArchived, true},
		{constants.StatusActive, constants.StatusTrialActive, false},
		{constants.StatusCancelled, constants.StatusArchived, true},
		{constants.StatusCancelled, constants.StatusActive, false},
		{constants.StatusArchived, constants.StatusActive, false},
		{constants.StatusActive, constants.StatusActive, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix",
		Status: constants.StatusActive, Confidence: 0.95,
	})

	sub, err := uc.UpdateStatus(context.Background(), "sub-1", constants.StatusCancelled, "email-9")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if sub.Status != constants.StatusCancelled {
		t.Errorf("status = %q, want cancelled", sub.Status)
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 1 {
		t.Errorf("history has %d entries, want 1", len(entries))
	}

	// 同状态为空操作, 不写历史
	if _, err := uc.UpdateStatus(context.Background(), "sub-1", constants.StatusCancelled, ""); err != nil {
		t.Fatalf("no-op UpdateStatus failed: %v", err)
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 1 {
		t.Errorf("no-op wrote history, now %d entries", len(entries))
	}

	// 非法跃迁
	_, err = uc.UpdateStatus(context.Background(), "sub-1", constants.StatusActive, "")
	if !errors.IsInvalidState(err) {
		t.Errorf("expected invalid state error, got %v", err)
	}

	// 不存在
	_, err = uc.UpdateStatus(context.Background(), "missing", constants.StatusActive, "")
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestUpdatePrice(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix", Price: 15.99,
		Status: constants.StatusActive, Confidence: 0.95,
	})

	sub, err := uc.UpdatePrice(context.Background(), "sub-1", 17.99, "email-3")
	if err != nil {
		t.Fatalf("UpdatePrice failed: %v", err)
	}
	if sub.Price != 17.99 {
		t.Errorf("price = %v, want 17.99", sub.Price)
	}
	entries := historyFor(store, "sub-1")
	if len(entries) != 1 || entries[0].ChangeType != constants.ChangePrice {
		t.Fatalf("unexpected history: %+v", entries)
	}

	// 同价为空操作
	if _, err := uc.UpdatePrice(context.Background(), "sub-1", 17.99, ""); err != nil {
		t.Fatalf("no-op UpdatePrice failed: %v", err)
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 1 {
		t.Errorf("no-op wrote history, now %d entries", len(entries))
	}

	if _, err := uc.UpdatePrice(context.Background(), "sub-1", -5, ""); !errors.IsValidation(err) {
		t.Errorf("expected validation error for negative price, got %v", err)
	}
}

func TestReviewLifecycle(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Maybe Spotify",
		Status: constants.StatusPendingReview, RequiresReview: true, Confidence: 0.7,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-2", UserID: 1, ServiceName: "Maybe Hulu",
		Status: constants.StatusPendingReview, RequiresReview: true, Confidence: 0.65,
	})

	sub, err := uc.ApproveSubscription(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("ApproveSubscription failed: %v", err)
	}
	if sub.Status != constants.StatusActive {
		t.Errorf("status = %q, want active", sub.Status)
	}
	if sub.RequiresReview {
		t.Error("approved subscription should clear review flag")
	}

	sub, err = uc.RejectSubscription(context.Background(), "sub-2")
	if err != nil {
		t.Fatalf("RejectSubscription failed: %v", err)
	}
	if sub.Status != constants.StatusArchived {
		t.Errorf("status = %q, want archived", sub.Status)
	}

	// 已处理的订阅不能再次复核
	if _, err := uc.ApproveSubscription(context.Background(), "sub-2"); !errors.IsInvalidState(err) {
		t.Errorf("expected invalid state on approving archived, got %v", err)
	}
}

func TestCancelSubscription(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix",
		Status: constants.StatusActive, Confidence: 0.95,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-2", UserID: 1, ServiceName: "Hulu",
		Status: constants.StatusPendingReview, Confidence: 0.7,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-3", UserID: 1, ServiceName: "Adobe Trial",
		Status: constants.StatusTrialActive, Confidence: 0.9,
	})

	sub, err := uc.CancelSubscription(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}
	if sub.Status != constants.StatusCancelled {
		t.Errorf("status = %q, want cancelled", sub.Status)
	}
	if sub.CancelledAt == nil {
		t.Error("CancelledAt not set")
	}

	// 试用期内也可取消
	sub, err = uc.CancelSubscription(context.Background(), "sub-3")
	if err != nil {
		t.Fatalf("CancelSubscription on trial failed: %v", err)
	}
	if sub.Status != constants.StatusCancelled {
		t.Errorf("trial status = %q, want cancelled", sub.Status)
	}

	if _, err := uc.CancelSubscription(context.Background(), "sub-2"); !errors.IsInvalidState(err) {
		t.Errorf("expected invalid state cancelling pending_review, got %v", err)
	}
}

func TestArchiveByEmailAccount(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, EmailAccountID: "acc-1",
		ServiceName: "Netflix", Status: constants.StatusActive,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-2", UserID: 1, EmailAccountID: "acc-1",
		ServiceName: "Spotify", Status: constants.StatusCancelled,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-3", UserID: 1, EmailAccountID: "acc-1",
		ServiceName: "Old", Status: constants.StatusArchived,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-4", UserID: 1, EmailAccountID: "acc-2",
		ServiceName: "Hulu", Status: constants.StatusActive,
	})

	count, err := uc.ArchiveByEmailAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("ArchiveByEmailAccount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("archived %d, want 2", count)
	}
	for _, id := range []string{"sub-1", "sub-2", "sub-3"} {
		sub, _ := uc.GetSubscription(context.Background(), id)
		if sub.Status != constants.StatusArchived {
			t.Errorf("subscription %s status = %q, want archived", id, sub.Status)
		}
	}
	other, _ := uc.GetSubscription(context.Background(), "sub-4")
	if other.Status != constants.StatusActive {
		t.Errorf("other account archived: %q", other.Status)
	}
	// 行保留不删
	if len(store.subs) != 4 {
		t.Errorf("store has %d subscriptions, want 4", len(store.subs))
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 1 {
		t.Errorf("archive did not write history for sub-1")
	}
}

func TestExpireTrialSweep(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)

	past := testNow.Add(-24 * time.Hour)
	future := testNow.Add(5 * 24 * time.Hour)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Trial Over",
		Status: constants.StatusTrialActive, NextRenewalDate: &past,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-2", UserID: 1, ServiceName: "Trial Running",
		Status: constants.StatusTrialActive, NextRenewalDate: &future,
	})

	count, err := uc.ExpireTrialSweep(context.Background())
	if err != nil {
		t.Fatalf("ExpireTrialSweep failed: %v", err)
	}
	if count != 1 {
		t.Errorf("converted %d trials, want 1", count)
	}
	sub, _ := uc.GetSubscription(context.Background(), "sub-1")
	if sub.Status != constants.StatusActive {
		t.Errorf("overdue trial status = %q, want active", sub.Status)
	}
	sub, _ = uc.GetSubscription(context.Background(), "sub-2")
	if sub.Status != constants.StatusTrialActive {
		t.Errorf("running trial status = %q, want trial_active", sub.Status)
	}
}

func TestMonthlySpend(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix", Price: 10,
		Currency: "USD", BillingCycle: constants.CycleMonthly, Status: constants.StatusActive,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-2", UserID: 1, ServiceName: "Domain", Price: 120,
		Currency: "USD", BillingCycle: constants.CycleAnnual, Status: constants.StatusTrialActive,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-3", UserID: 1, ServiceName: "Old Thing", Price: 99,
		Currency: "USD", BillingCycle: constants.CycleMonthly, Status: constants.StatusCancelled,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-4", UserID: 1, ServiceName: "Musik", Price: 9,
		Currency: "EUR", BillingCycle: constants.CycleMonthly, Status: constants.StatusActive,
	})
	seedSubscription(store, &Subscription{
		ID: "sub-5", UserID: 1, ServiceName: "Maybe", Price: 5,
		Currency: "USD", BillingCycle: constants.CycleMonthly, Status: constants.StatusPendingReview,
	})

	totals, err := uc.MonthlySpend(context.Background(), 1)
	if err != nil {
		t.Fatalf("MonthlySpend failed: %v", err)
	}
	// 未归档且未取消的都计入, 含待复核
	if math.Abs(totals["USD"]-25) > 1e-9 {
		t.Errorf("USD total = %v, want 25", totals["USD"])
	}
	if math.Abs(totals["EUR"]-9) > 1e-9 {
		t.Errorf("EUR total = %v, want 9", totals["EUR"])
	}
}

func TestGetSubscriptionHistoryPaging(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix", Price: 10,
		Status: constants.StatusActive,
	})
	for i := 0; i < 3; i++ {
		if _, err := uc.UpdatePrice(context.Background(), "sub-1", float64(11+i), ""); err != nil {
			t.Fatalf("UpdatePrice failed: %v", err)
		}
	}

	items, total, err := uc.GetSubscriptionHistory(context.Background(), "sub-1", 1, 2)
	if err != nil {
		t.Fatalf("GetSubscriptionHistory failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 {
		t.Errorf("page has %d items, want 2", len(items))
	}

	// 非法分页参数回退默认值
	items, _, err = uc.GetSubscriptionHistory(context.Background(), "sub-1", 0, -1)
	if err != nil {
		t.Fatalf("GetSubscriptionHistory failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("defaulted page has %d items, want 3", len(items))
	}
}

// vanishingSubRepo 让指定 ID 的订阅按 ID 查不到, 模拟重复搜索与合并写入之间被并发删除
type vanishingSubRepo struct {
	SubscriptionRepo
	goneID string
}

func (r *vanishingSubRepo) GetByID(ctx context.Context, id string) (*Subscription, error) {
	if id == r.goneID {
		return nil, nil
	}
	return r.SubscriptionRepo.GetByID(ctx, id)
}

func TestReconcileMergeTargetDeletedConcurrently(t *testing.T) {
	store := newMemStore()
	seedSubscription(store, &Subscription{
		ID:             "sub-1",
		UserID:         1,
		EmailAccountID: "acc-1",
		ServiceName:    "Netflix",
		Price:          15.99,
		Currency:       "USD",
		BillingCycle:   constants.CycleMonthly,
		Status:         constants.StatusActive,
		Confidence:     0.95,
	})

	uc := NewSubscriptionUsecase(
		&vanishingSubRepo{SubscriptionRepo: &memSubRepo{s: store}, goneID: "sub-1"},
		&memHistoryRepo{s: store},
		nopTx{},
		nil,
		log.DefaultLogger,
	)
	uc.now = func() time.Time { return testNow }

	_, _, err := uc.Reconcile(context.Background(), 1, &Candidate{
		ServiceName:    "netflix ",
		Price:          17.99,
		Currency:       "USD",
		BillingCycle:   constants.CycleMonthly,
		Confidence:     0.90,
		EmailAccountID: "acc-1",
		SourceEmailID:  "email-2",
	})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if entries := historyFor(store, "sub-1"); len(entries) != 0 {
		t.Errorf("history has %d entries, want 0 after failed merge", len(entries))
	}
	if store.subs[0].Price != 15.99 {
		t.Errorf("stored price = %v, want 15.99 untouched", store.subs[0].Price)
	}
}

func TestReconcileCancelledContext(t *testing.T) {
	store := newMemStore()
	uc := newTestSubscriptionUsecase(store)
	seedSubscription(store, &Subscription{
		ID: "sub-1", UserID: 1, ServiceName: "Netflix", Price: 15.99,
		Currency: "USD", Status: constants.StatusActive, Confidence: 0.95,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := uc.Reconcile(ctx, 1, &Candidate{ServiceName: "Spotify", Price: 9.99, Confidence: 0.9}); err == nil {
		t.Fatal("Reconcile should fail on cancelled context")
	}
	if _, err := uc.UpdateStatus(ctx, "sub-1", constants.StatusCancelled, ""); err == nil {
		t.Fatal("UpdateStatus should fail on cancelled context")
	}

	if len(store.subs) != 1 {
		t.Fatalf("store has %d subscriptions, want 1", len(store.subs))
	}
	if store.subs[0].Status != constants.StatusActive {
		t.Errorf("status = %q, want %q untouched", store.subs[0].Status, constants.StatusActive)
	}
	if len(store.history) != 0 {
		t.Errorf("history has %d entries, want 0", len(store.history))
	}
}
