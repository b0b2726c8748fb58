package models

import "time"

// 流程状态
const (
	FlowCompleted = "completed"
	FlowSkipped   = "skipped"
	FlowFailed    = "failed"
)

// 触发来源
const (
	TriggerPageReady   = "page-ready"
	TriggerRouteChange = "route-change"
	TriggerRestore     = "restore"
	TriggerToggleOn    = "toggle-on"
	TriggerRunNow      = "run-now"
)

// FlowExecution 一次流程运行的记录
type FlowExecution struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`           // 触发时的页面地址
	Pattern      string    `json:"pattern"`       // 命中的规则
	Trigger      string    `json:"trigger"`       // 触发来源
	State        string    `json:"state"`         // completed / skipped / failed
	TotalSteps   int       `json:"total_steps"`   // 规则步骤总数
	SuccessSteps int       `json:"success_steps"` // 成功步骤数
	FailedSteps  int       `json:"failed_steps"`  // 失败步骤数
	ErrorMsg     string    `json:"error_msg,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     int64     `json:"duration"` // 毫秒
}

// FlowResult 手动触发（run-now）的响应结果
type FlowResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// MatchStatus 当前页面与规则的匹配情况（popup 状态查询用）
type MatchStatus struct {
	Matched bool   `json:"matched"`
	Pattern string `json:"pattern,omitempty"`
	AutoRun bool   `json:"autoRun,omitempty"`
	URL     string `json:"url"`
}
