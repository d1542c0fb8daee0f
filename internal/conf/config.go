package conf

import (
	"fmt"

	"xinyuan_tech/subtracker-service/internal/constants"
)

type Bootstrap struct {
	Server *Server `yaml:"server" json:"server"`
	Data   *Data   `yaml:"data" json:"data"`
	Alert  *Alert  `yaml:"alert" json:"alert"`
	Log    *Log    `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver string `yaml:"driver" json:"driver"`
		Source string `yaml:"source" json:"source"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Alert 提醒生成任务配置
// SendHour 用指针区分 "未配置" 与合法的 0 点
type Alert struct {
	SendHour            *int `yaml:"send_hour" json:"send_hour"`
	RenewalWindowDays   int  `yaml:"renewal_window_days" json:"renewal_window_days"`
	RenewalReminderDays int  `yaml:"renewal_reminder_days" json:"renewal_reminder_days"`
	UnusedMonths        int  `yaml:"unused_months" json:"unused_months"`
	WorkerPoolSize      int  `yaml:"worker_pool_size" json:"worker_pool_size"`
}

// AlertSettings 解析后的提醒配置, 所有字段均已落默认值
type AlertSettings struct {
	SendHour            int
	RenewalWindowDays   int
	RenewalReminderDays int
	UnusedMonths        int
	WorkerPoolSize      int
}

type Log struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Alert != nil && b.Alert.SendHour != nil {
		if *b.Alert.SendHour < 0 || *b.Alert.SendHour > 23 {
			return fmt.Errorf("alert.send_hour must be in [0, 23]")
		}
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}

// AlertOrDefault 返回提醒配置, 未配置项回退到默认值
func (b *Bootstrap) AlertOrDefault() *AlertSettings {
	a := &AlertSettings{
		SendHour:            constants.DefaultAlertSendHour,
		RenewalWindowDays:   constants.DefaultRenewalWindowDays,
		RenewalReminderDays: constants.DefaultRenewalReminderDays,
		UnusedMonths:        constants.DefaultUnusedMonths,
		WorkerPoolSize:      constants.DefaultAlertWorkers,
	}
	if b.Alert == nil {
		return a
	}
	if b.Alert.SendHour != nil {
		a.SendHour = *b.Alert.SendHour
	}
	if b.Alert.RenewalWindowDays > 0 {
		a.RenewalWindowDays = b.Alert.RenewalWindowDays
	}
	if b.Alert.RenewalReminderDays > 0 {
		a.RenewalReminderDays = b.Alert.RenewalReminderDays
	}
	if b.Alert.UnusedMonths > 0 {
		a.UnusedMonths = b.Alert.UnusedMonths
	}
	if b.Alert.WorkerPoolSize > 0 {
		a.WorkerPoolSize = b.Alert.WorkerPoolSize
	}
	return a
}
