package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoflow/autoflow/models"
)

func boolPtr(v bool) *bool { return &v }

func loginRule(pattern string) models.Rule {
	return models.Rule{
		Pattern: pattern,
		Steps: []models.Step{
			{Act: models.ActType, Selector: "#u", TextFrom: models.TextFromUserID},
			{Act: models.ActClick, Selector: "#go"},
		},
	}
}

func newTestOrchestrator(url string) (*Orchestrator, *fakeProbe, *fakeStore, *fakeRecorder) {
	probe := newFakeProbe(url)
	probe.addElement("#u", true)
	probe.addElement("#go", true)
	store := &fakeStore{
		settings: models.Settings{UserID: "alice", UserPassword: "s3cret"},
		rules:    []models.Rule{loginRule("https://example.com")},
	}
	rec := &fakeRecorder{}
	return NewOrchestrator(probe, store, NewVisitGuard(), rec), probe, store, rec
}

func TestOrchestratorRunsOncePerVisit(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://example.com/login")
	ctx := context.Background()

	orch.HandleEvent(ctx, Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowCompleted, rec.all()[0].State)
	assert.Equal(t, models.TriggerPageReady, rec.all()[0].Trigger)
	assert.Equal(t, "alice", probe.values["#u"])

	// 同一访问内不重复运行
	orch.HandleEvent(ctx, Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Len(t, rec.all(), 1)
	assert.Len(t, probe.clicks, 1)
}

func TestOrchestratorRouteChangeResetsGuard(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://example.com/login")
	ctx := context.Background()

	orch.HandleEvent(ctx, Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)

	// 路由变化视为新访问
	orch.HandleEvent(ctx, Event{Kind: EventRouteChange, URL: probe.URL()})
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, models.TriggerRouteChange, rec.all()[1].Trigger)
}

func TestOrchestratorToggleOnRetriggers(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://example.com/login")
	ctx := context.Background()

	orch.HandleEvent(ctx, Event{Kind: EventPageReady, URL: probe.URL()})
	orch.HandleEvent(ctx, Event{Kind: EventToggleOn, URL: probe.URL()})
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, models.TriggerToggleOn, rec.all()[1].Trigger)
}

func TestOrchestratorDisabledSkips(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	store.settings.Enabled = boolPtr(false)

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Empty(t, rec.all())
	assert.Empty(t, probe.values)
}

func TestOrchestratorAutoRunOffSkips(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	store.rules[0].AutoRun = boolPtr(false)

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Empty(t, rec.all())
}

func TestOrchestratorNoRuleMatched(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://other.com")

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Empty(t, rec.all())
}

func TestOrchestratorStartConditionNotMet(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	store.rules[0].StartWhen = &models.Condition{Exists: "#never"}
	store.rules[0].StartWhenTimeout = 50

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowSkipped, rec.all()[0].State)
	assert.Empty(t, probe.values)

	// 启动条件失败不占用守卫，下次事件可以再试
	probe.addElement("#never", true)
	store.mu.Lock()
	store.rules[0].StartWhen = nil
	store.mu.Unlock()
	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, models.FlowCompleted, rec.all()[1].State)
}

func TestOrchestratorMissingCredentials(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	store.settings = models.Settings{}

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowSkipped, rec.all()[0].State)
	assert.Equal(t, ErrMissingCredentials.Error(), rec.all()[0].ErrorMsg)
	// 没有执行任何步骤
	assert.Empty(t, probe.values)
	assert.Empty(t, probe.clicks)
}

func TestOrchestratorMissingCredentialsAnyRule(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	store.settings = models.Settings{}
	// 规则本身不引用凭证，凭证缺失仍然在任何步骤前短路
	store.rules = []models.Rule{{
		Pattern: "https://example.com",
		Steps:   []models.Step{{Act: models.ActClick, Selector: "#go"}},
	}}

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowSkipped, rec.all()[0].State)
	assert.Equal(t, ErrMissingCredentials.Error(), rec.all()[0].ErrorMsg)
	assert.Empty(t, probe.clicks)
}

func TestOrchestratorStoreFailureDegrades(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")

	// 设置读取失败按默认配置降级：事件继续走完闸门，
	// 默认凭证为空，落为一条跳过记录而不是静默中断
	store.settingsErr = assert.AnError
	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowSkipped, rec.all()[0].State)
	assert.Empty(t, probe.clicks)

	// 规则读取失败按空列表处理，没有命中也不崩溃
	store.settingsErr = nil
	store.rulesErr = assert.AnError
	orch.HandleEvent(context.Background(), Event{Kind: EventRouteChange, URL: probe.URL()})
	assert.Len(t, rec.all(), 1)
}

func TestOrchestratorFailurePolicy(t *testing.T) {
	orch, probe, store, rec := newTestOrchestrator("https://example.com/login")
	probe.failSet["#go"] = assert.AnError

	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.FlowFailed, rec.all()[0].State)

	// 失败也占用守卫，同一访问内不自动重试
	orch.HandleEvent(context.Background(), Event{Kind: EventPageReady, URL: probe.URL()})
	assert.Len(t, rec.all(), 1)

	// continueOnError 跑完剩余步骤算完成，失败数留在记录里
	store.mu.Lock()
	store.rules[0].ContinueOnError = true
	store.mu.Unlock()
	orch.HandleEvent(context.Background(), Event{Kind: EventRouteChange, URL: probe.URL()})
	require.Len(t, rec.all(), 2)
	assert.Equal(t, models.FlowCompleted, rec.all()[1].State)
	assert.Equal(t, 1, rec.all()[1].SuccessSteps)
	assert.Equal(t, 1, rec.all()[1].FailedSteps)
}

func TestOrchestratorRunNow(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://example.com/login")
	ctx := context.Background()

	result, err := orch.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.OK)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, models.TriggerRunNow, rec.all()[0].Trigger)

	// 手动触发不占用守卫，可反复运行
	result, err = orch.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Len(t, probe.clicks, 2)
}

func TestOrchestratorRunNowIgnoresAutoRunFlag(t *testing.T) {
	orch, probe, store, _ := newTestOrchestrator("https://example.com/login")
	store.rules[0].AutoRun = boolPtr(false)

	result, err := orch.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "alice", probe.values["#u"])
}

func TestOrchestratorRunNowSkipsGates(t *testing.T) {
	orch, probe, store, _ := newTestOrchestrator("https://example.com/login")
	store.settings.Enabled = boolPtr(false)
	store.rules[0].StartWhen = &models.Condition{Exists: "#never"}
	store.rules[0].StartWhenTimeout = 50

	// 总开关与启动条件都不拦手动触发
	result, err := orch.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "alice", probe.values["#u"])
}

func TestOrchestratorRunNowNoRule(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator("https://other.com")
	_, err := orch.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrNoRuleMatched)
}

func TestOrchestratorMatchStatus(t *testing.T) {
	orch, _, store, _ := newTestOrchestrator("https://example.com/login")

	status, err := orch.MatchStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Matched)
	assert.Equal(t, "https://example.com", status.Pattern)
	assert.True(t, status.AutoRun)

	store.mu.Lock()
	store.rules = nil
	store.mu.Unlock()
	status, err = orch.MatchStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Matched)
}

func TestOrchestratorUnknownEventIgnored(t *testing.T) {
	orch, probe, _, rec := newTestOrchestrator("https://example.com/login")
	orch.HandleEvent(context.Background(), Event{Kind: "mystery", URL: probe.URL()})
	assert.Empty(t, rec.all())
}
