package server

import (
	"encoding/json"
	stdhttp "net/http"
	"strconv"
	"time"

	"xinyuan_tech/subtracker-service/internal/conf"
	"xinyuan_tech/subtracker-service/internal/constants"
	"xinyuan_tech/subtracker-service/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Bootstrap, svc *service.SubTrackerService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	if c.Server.Http.Timeout != "" {
		if d, err := time.ParseDuration(c.Server.Http.Timeout); err == nil {
			opts = append(opts, http.Timeout(d))
		}
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	// 注册健康检查端点
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"service": "subtracker-service", "status": "ok"})
	})

	return srv
}

// registerRoutes 注册业务路由
func registerRoutes(srv *http.Server, svc *service.SubTrackerService) {
	r := srv.Route("/v1")

	r.POST("/subscriptions/reconcile", func(ctx http.Context) error {
		var req service.ReconcileRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.Reconcile(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/subscriptions", func(ctx http.Context) error {
		userID, err := queryUint(ctx, "user_id")
		if err != nil {
			return err
		}
		subs, err := svc.ListSubscriptions(ctx, userID)
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"subscriptions": subs})
	})

	r.GET("/subscriptions/spend", func(ctx http.Context) error {
		userID, err := queryUint(ctx, "user_id")
		if err != nil {
			return err
		}
		totals, err := svc.MonthlySpend(ctx, userID)
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"monthly_spend": totals})
	})

	r.GET("/subscriptions/{id}", func(ctx http.Context) error {
		sub, err := svc.GetSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, sub)
	})

	r.GET("/subscriptions/{id}/history", func(ctx http.Context) error {
		page, _ := strconv.Atoi(ctx.Query().Get("page"))
		pageSize, _ := strconv.Atoi(ctx.Query().Get("page_size"))
		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = constants.DefaultPageSize
		}
		items, total, err := svc.GetSubscriptionHistory(ctx, ctx.Vars().Get("id"), page, pageSize)
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"items": items, "total": total})
	})

	r.POST("/subscriptions/{id}/approve", func(ctx http.Context) error {
		sub, err := svc.ApproveSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, sub)
	})

	r.POST("/subscriptions/{id}/reject", func(ctx http.Context) error {
		sub, err := svc.RejectSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, sub)
	})

	r.POST("/subscriptions/{id}/cancel", func(ctx http.Context) error {
		sub, err := svc.CancelSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, sub)
	})

	r.POST("/accounts/{id}/archive", func(ctx http.Context) error {
		count, err := svc.ArchiveAccount(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]int{"archived": count})
	})

	r.POST("/alerts/generate", func(ctx http.Context) error {
		var req struct {
			UserID uint64 `json:"user_id"`
		}
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		summary, err := svc.GenerateAlerts(ctx, req.UserID)
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]int{
			"created":               summary.Created,
			"skipped_duplicate":     summary.SkippedDuplicate,
			"skipped_by_preference": summary.SkippedByPreference,
		})
	})

	r.GET("/alerts/pending", func(ctx http.Context) error {
		asOf := time.Now().UTC()
		if v := ctx.Query().Get("as_of"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return kerrors.BadRequest("VALIDATION_ERROR", "invalid as_of timestamp")
			}
			asOf = t
		}
		alerts, err := svc.PendingAlerts(ctx, asOf)
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"alerts": alerts})
	})

	r.POST("/alerts/{id}/snooze", func(ctx http.Context) error {
		var req struct {
			Hours int `json:"hours"`
		}
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		alert, err := svc.SnoozeAlert(ctx, ctx.Vars().Get("id"), req.Hours)
		if err != nil {
			return err
		}
		return ctx.Result(200, alert)
	})

	r.POST("/alerts/{id}/dismiss", func(ctx http.Context) error {
		if err := svc.DismissAlert(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"dismissed": true})
	})

	r.POST("/alerts/{id}/sent", func(ctx http.Context) error {
		if err := svc.MarkAlertSent(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"ok": true})
	})

	r.POST("/alerts/{id}/failed", func(ctx http.Context) error {
		if err := svc.MarkAlertFailed(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"ok": true})
	})
}

func queryUint(ctx http.Context, key string) (uint64, error) {
	v, err := strconv.ParseUint(ctx.Query().Get(key), 10, 64)
	if err != nil {
		return 0, kerrors.BadRequest("VALIDATION_ERROR", key+" is required")
	}
	return v, nil
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code))
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	if code >= 140000 && code < 150000 {
		return stdhttp.StatusBadRequest
	}
	return stdhttp.StatusInternalServerError
}
