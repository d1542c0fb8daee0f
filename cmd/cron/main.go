package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/conf"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

// CronApp Cron 应用结构
type CronApp struct {
	subscriptionUsecase *biz.SubscriptionUsecase
	alertUsecase        *biz.AlertUsecase
}

// newLogger 创建 logger
func newLogger() klog.Logger {
	return klog.With(klog.NewStdLogger(os.Stdout),
		"ts", klog.DefaultTimestamp,
		"caller", klog.DefaultCaller,
		"service.name", "subtracker-cron",
	)
}

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化应用
	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 1. 试用期过期检查 - 每天凌晨 2 点执行
	_, err = cronScheduler.AddFunc("0 0 2 * * *", func() {
		log.Println("[CRON] Starting trial expiration sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		count, err := app.subscriptionUsecase.ExpireTrialSweep(ctx)
		if err != nil {
			log.Printf("[CRON] Error sweeping expired trials: %v", err)
		} else {
			log.Printf("[CRON] Converted %d expired trials to active", count)
			log.Println("[CRON] Finished trial expiration sweep")
		}
	})
	if err != nil {
		log.Printf("Failed to add trial sweep job: %v", err)
	}

	// 2. 提醒生成 - 每天上午 8 点执行
	_, err = cronScheduler.AddFunc("0 0 8 * * *", func() {
		log.Println("[CRON] Starting alert generation for all users...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		summary, err := app.alertUsecase.GenerateAlertsForAllUsers(ctx)
		if err != nil {
			log.Printf("[CRON] Error generating alerts: %v", err)
		} else {
			log.Printf("[CRON] Alert generation completed: created=%d, skipped_duplicate=%d, skipped_by_preference=%d",
				summary.Created, summary.SkippedDuplicate, summary.SkippedByPreference)
			log.Println("[CRON] Finished alert generation")
		}
	})
	if err != nil {
		log.Printf("Failed to add alert generation job: %v", err)
	}

	// 3. 待发送提醒检查 - 每天上午 10 点执行
	_, err = cronScheduler.AddFunc("0 0 10 * * *", func() {
		log.Println("[CRON] Starting pending alert check...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		alerts, err := app.alertUsecase.GetPendingAlerts(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("[CRON] Error getting pending alerts: %v", err)
			return
		}

		log.Printf("[CRON] Found %d alerts due for delivery", len(alerts))
		for _, alert := range alerts {
			// TODO: 接入通知网关后在这里投递并回写 sent/failed
			log.Printf("[CRON] Due: user=%d, type=%s, subscription=%s, scheduled_for=%s",
				alert.UserID, alert.Type, alert.SubscriptionID,
				alert.ScheduledFor.Format("2006-01-02 15:04:05"))
		}
		log.Println("[CRON] Finished pending alert check")
	})
	if err != nil {
		log.Printf("Failed to add pending alert job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Println("  - Trial expiration sweep:  Every day at 02:00")
	log.Println("  - Alert generation:        Every day at 08:00")
	log.Println("  - Pending alert check:     Every day at 10:00")
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
