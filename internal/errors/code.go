package errors

// 订阅追踪服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 subtracker-service
// 模块划分：
//   01: 对账模块
//   02: 订阅生命周期
//   03: 提醒模块

// 对账模块 (140100-140199)
const (
	// ErrCodeInvalidPrice 价格无效错误
	ErrCodeInvalidPrice = 140101
	// ErrCodeInvalidCurrency 货币代码无效错误
	ErrCodeInvalidCurrency = 140102
	// ErrCodeInvalidConfidence 置信度无效错误
	ErrCodeInvalidConfidence = 140103
	// ErrCodeInvalidRenewalDate 续费日期无效错误
	ErrCodeInvalidRenewalDate = 140104
)

// 订阅生命周期模块 (140200-140299)
const (
	// ErrCodeSubscriptionNotFound 订阅不存在错误
	ErrCodeSubscriptionNotFound = 140201
	// ErrCodeInvalidTransition 无效的状态迁移错误
	ErrCodeInvalidTransition = 140202
	// ErrCodeSubscriptionArchived 订阅已归档错误
	ErrCodeSubscriptionArchived = 140203
)

// 提醒模块 (140300-140399)
const (
	// ErrCodeAlertNotFound 提醒不存在错误
	ErrCodeAlertNotFound = 140301
	// ErrCodeCannotSnoozeStatus 当前状态无法延后提醒错误
	ErrCodeCannotSnoozeStatus = 140302
	// ErrCodeUserBusy 用户级任务正在处理错误
	ErrCodeUserBusy = 140303
)
