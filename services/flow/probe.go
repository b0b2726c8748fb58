package flow

import (
	"context"
	"time"

	"github.com/autoflow/autoflow/models"
)

// PageProbe 对活动页面的底层探测与注入原语。
// 实现方负责真正的页面交互（services/browser 提供 rod 实现）；
// 核心只通过该接口轮询与操作，每个步骤都重新解析选择器，
// 不跨步骤缓存元素引用，页面重渲染不会留下悬空引用。
type PageProbe interface {
	// URL 当前页面地址
	URL() string
	// Exists 选择器是否命中元素（一次同步查询）
	Exists(selector string) bool
	// ExistsVisible 命中且可见：已挂载、非 display:none、非 visibility:hidden、渲染盒非零
	ExistsVisible(selector string) bool
	// SetValue 通过平台原生 value setter 写入并派发 input/change 事件
	SetValue(ctx context.Context, selector, text string) error
	// Click 立即派发点击，不滚动不停顿
	Click(ctx context.Context, selector string) error
	// ClickVisible 滚动到可视区域、短暂停顿后派发点击
	ClickVisible(ctx context.Context, selector string) error
	// PressKey 派发 keydown+keyup；selector 为空时作用于当前聚焦元素
	PressKey(ctx context.Context, selector, key string) error
	// Submit 提交表单：selector 元素本身 / 最近祖先 form / 聚焦元素所属 form；无 form 则静默跳过
	Submit(ctx context.Context, selector string) error
	// SetChecked 仅当元素确为 checkbox 时设置状态并派发 change，类型不符静默跳过
	SetChecked(ctx context.Context, selector string, checked bool) error
	// SelectOption 仅当元素确为 select 时设置选项并派发 change，类型不符静默跳过
	SelectOption(ctx context.Context, selector, value string) error
	// Navigate 整页跳转
	Navigate(ctx context.Context, url string) error
}

// 轮询等待的默认参数
const (
	DefaultWaitTimeout  = time.Duration(models.DefaultStepTimeoutMS) * time.Millisecond
	DefaultPollInterval = time.Duration(models.DefaultPollIntervalMS) * time.Millisecond
)

// WaitFor 轮询直到选择器命中元素，超时返回 TimeoutError
func WaitFor(ctx context.Context, probe PageProbe, selector string, timeout, interval time.Duration) error {
	return pollSelector(ctx, selector, timeout, interval, func() bool {
		return probe.Exists(selector)
	})
}

// WaitForVisible 轮询直到选择器命中可见元素，超时返回 TimeoutError
func WaitForVisible(ctx context.Context, probe PageProbe, selector string, timeout, interval time.Duration) error {
	return pollSelector(ctx, selector, timeout, interval, func() bool {
		return probe.ExistsVisible(selector)
	})
}

func pollSelector(ctx context.Context, selector string, timeout, interval time.Duration, check func() bool) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Selector: selector, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// stepTimeout 步骤自带超时（毫秒）转 Duration，未设置时用默认值
func stepTimeout(ms int) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultWaitTimeout
}
