package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoflow/autoflow/models"
	"github.com/autoflow/autoflow/pkg/logger"
)

// ConfigStore 编排器对配置存储的最小依赖
type ConfigStore interface {
	Settings(ctx context.Context) (*models.Settings, error)
	Rules(ctx context.Context) ([]models.Rule, error)
}

// ExecutionRecorder 流程运行记录的落盘接口；可为 nil 表示不记录
type ExecutionRecorder interface {
	SaveExecution(ctx context.Context, exec *models.FlowExecution) error
}

// 页面事件类型
const (
	EventPageReady   = "page-ready"   // 页面加载完成（DOM 就绪）
	EventRouteChange = "route-change" // 单页应用内路由变化
	EventRestore     = "restore"      // 页面从挂起状态恢复
	EventToggleOn    = "toggle-on"    // 总开关由关到开
)

// Event 浏览器侧上报的页面事件
type Event struct {
	Kind string
	URL  string
}

// Orchestrator 单个页面的流程编排器。
// 负责把页面事件翻译成一次可能的自动运行：
// 总开关、规则匹配、访问守卫、启动条件、重入保护逐层把关，
// 全部通过后才交给解释器执行步骤。
// guard 跨页面共享（同一浏览会话），running 标记属于本页面。
type Orchestrator struct {
	probe    PageProbe
	store    ConfigStore
	guard    *VisitGuard
	recorder ExecutionRecorder

	mu      sync.Mutex
	running bool
}

func NewOrchestrator(probe PageProbe, store ConfigStore, guard *VisitGuard, recorder ExecutionRecorder) *Orchestrator {
	return &Orchestrator{
		probe:    probe,
		store:    store,
		guard:    guard,
		recorder: recorder,
	}
}

// HandleEvent 处理一次页面事件。
// route-change / restore / toggle-on 先清除本 URL 的访问标记，
// 同一次访问因此获得重新运行的机会；随后尝试自动运行。
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventRouteChange, EventRestore, EventToggleOn:
		o.guard.Reset(ev.URL)
	case EventPageReady:
	default:
		logger.Warn(ctx, "unknown page event %q ignored", ev.Kind)
		return
	}

	trigger := eventTrigger(ev.Kind)
	o.tryAutoRun(ctx, ev.URL, trigger)
}

func eventTrigger(kind string) string {
	switch kind {
	case EventRouteChange:
		return models.TriggerRouteChange
	case EventRestore:
		return models.TriggerRestore
	case EventToggleOn:
		return models.TriggerToggleOn
	default:
		return models.TriggerPageReady
	}
}

// tryAutoRun 自动运行的完整闸门序列。
// 任何一层不满足都静默放弃，只留 debug 日志，不算一次失败。
func (o *Orchestrator) tryAutoRun(ctx context.Context, url, trigger string) {
	// 存储暂不可用按安全默认值降级，事件处理不中断
	settings, err := o.store.Settings(ctx)
	if err != nil {
		logger.Warn(ctx, "load settings failed, using defaults: %v", err)
		settings = &models.Settings{}
	}
	if !settings.IsEnabled() {
		logger.Debug(ctx, "auto run disabled, skip %s", url)
		return
	}

	rules, err := o.store.Rules(ctx)
	if err != nil {
		logger.Warn(ctx, "load rules failed, treating as empty: %v", err)
		rules = nil
	}
	rule := PickRule(rules, url)
	if rule == nil {
		return
	}
	if !rule.AutoRunEnabled() {
		logger.Debug(ctx, "rule %s has autoRun off, skip", rule.Pattern)
		return
	}

	if o.guard.HasRun(url) {
		logger.Debug(ctx, "already ran for %s in this visit, skip", url)
		return
	}
	if o.isRunning() {
		logger.Debug(ctx, "flow in progress on this page, skip %s trigger", trigger)
		return
	}

	// 启动条件不满足视为本次触发放弃，不占用访问守卫
	timeout := time.Duration(rule.StartTimeoutMS()) * time.Millisecond
	if !WaitForStart(ctx, o.probe, rule.StartWhen, timeout, rule.StartWhenVisible) {
		logger.Info(ctx, "start condition not met for %s within %s", rule.Pattern, timeout)
		o.record(ctx, skippedExecution(url, rule, trigger, "start condition not met"))
		return
	}

	// 等待期间状态可能已变，进入执行前在锁内复核
	o.mu.Lock()
	if o.running || o.guard.HasRun(url) {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()
	defer o.setRunning(false)

	// 一旦开始执行就占用守卫，失败也不在本次访问内重试
	o.guard.MarkRun(url)

	exec := o.runFlow(ctx, url, rule, trigger, settings.Credentials())
	o.record(ctx, exec)
}

// RunNow 手动触发：跳过总开关、autoRun 开关与启动条件，
// 不检查也不占用访问守卫，同一页面可反复手动运行。
// 仍需命中规则，仍受重入保护与凭证短路约束。
func (o *Orchestrator) RunNow(ctx context.Context) (*models.FlowResult, error) {
	url := o.probe.URL()

	rules, err := o.store.Rules(ctx)
	if err != nil {
		return nil, err
	}
	rule := PickRule(rules, url)
	if rule == nil {
		return nil, ErrNoRuleMatched
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrFlowInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer o.setRunning(false)

	settings, err := o.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	exec := o.runFlow(ctx, url, rule, models.TriggerRunNow, settings.Credentials())
	o.record(ctx, exec)

	if exec.State == models.FlowCompleted {
		return &models.FlowResult{OK: true}, nil
	}
	return &models.FlowResult{OK: false, Message: exec.ErrorMsg}, nil
}

// MatchStatus 当前页面的规则命中情况
func (o *Orchestrator) MatchStatus(ctx context.Context) (*models.MatchStatus, error) {
	url := o.probe.URL()
	rules, err := o.store.Rules(ctx)
	if err != nil {
		return nil, err
	}
	rule := PickRule(rules, url)
	if rule == nil {
		return &models.MatchStatus{Matched: false, URL: url}, nil
	}
	return &models.MatchStatus{
		Matched: true,
		Pattern: rule.Pattern,
		AutoRun: rule.AutoRunEnabled(),
		URL:     url,
	}, nil
}

// runFlow 执行一条规则的全部步骤并生成运行记录。
// 凭证缺失在执行任何步骤前短路，与规则是否引用凭证无关；
// 错误信息里永远不含凭证内容。
func (o *Orchestrator) runFlow(ctx context.Context, url string, rule *models.Rule, trigger string, creds models.Credentials) *models.FlowExecution {
	exec := &models.FlowExecution{
		ID:         uuid.New().String(),
		URL:        url,
		Pattern:    rule.Pattern,
		Trigger:    trigger,
		TotalSteps: len(rule.Steps),
		StartTime:  time.Now(),
	}

	if creds.Missing() {
		exec.State = models.FlowSkipped
		exec.ErrorMsg = ErrMissingCredentials.Error()
		finishExecution(exec)
		logger.Warn(ctx, "credentials not configured, skip %s", rule.Pattern)
		return exec
	}

	logger.Info(ctx, "run flow for %s (%d steps, trigger=%s)", rule.Pattern, len(rule.Steps), trigger)

	it := NewInterpreter(o.probe, creds)
	err := it.Run(ctx, rule.Steps, rule.ContinueOnError)
	exec.SuccessSteps, exec.FailedSteps = it.Stats()
	if err != nil {
		exec.State = models.FlowFailed
		exec.ErrorMsg = err.Error()
		logger.Error(ctx, "flow for %s failed: %v", rule.Pattern, err)
	} else {
		// continueOnError 策略下部分步骤失败仍算跑完，失败数留在记录里
		exec.State = models.FlowCompleted
		if exec.FailedSteps > 0 {
			logger.Warn(ctx, "flow for %s completed with %d failed steps", rule.Pattern, exec.FailedSteps)
		} else {
			logger.Info(ctx, "flow for %s completed", rule.Pattern)
		}
	}
	finishExecution(exec)
	return exec
}

func (o *Orchestrator) record(ctx context.Context, exec *models.FlowExecution) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveExecution(ctx, exec); err != nil {
		logger.Error(ctx, "save execution record failed: %v", err)
	}
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) setRunning(v bool) {
	o.mu.Lock()
	o.running = v
	o.mu.Unlock()
}

// skippedExecution 生成一条未执行任何步骤的跳过记录
func skippedExecution(url string, rule *models.Rule, trigger, reason string) *models.FlowExecution {
	exec := &models.FlowExecution{
		ID:         uuid.New().String(),
		URL:        url,
		Pattern:    rule.Pattern,
		Trigger:    trigger,
		TotalSteps: len(rule.Steps),
		StartTime:  time.Now(),
		State:      models.FlowSkipped,
		ErrorMsg:   reason,
	}
	finishExecution(exec)
	return exec
}

func finishExecution(exec *models.FlowExecution) {
	exec.EndTime = time.Now()
	exec.Duration = exec.EndTime.Sub(exec.StartTime).Milliseconds()
}
