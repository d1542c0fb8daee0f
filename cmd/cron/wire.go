//go:build wireinject
// +build wireinject

package main

import (
	"xinyuan_tech/subtracker-service/internal/biz"
	"xinyuan_tech/subtracker-service/internal/conf"
	"xinyuan_tech/subtracker-service/internal/data"

	"github.com/google/wire"
)

// wireApp 初始化应用
func wireApp(*conf.Bootstrap) (*CronApp, func(), error) {
	panic(wire.Build(
		// Logger
		newLogger,

		// Data 层
		data.ProviderSet,

		// Biz 层
		biz.ProviderSet,

		// App 结构
		wire.Struct(new(CronApp), "*"),
	))
}
