package flow

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/autoflow/autoflow/models"
)

// EvaluateOnce 对条件做一次即时判定。
// 空条件恒真；urlMatches 编译失败按 false 处理，绝不抛错。
func EvaluateOnce(probe PageProbe, cond *models.Condition) bool {
	if cond.IsZero() {
		return true
	}
	if cond.Exists != "" {
		return probe.Exists(cond.Exists)
	}
	if cond.URLIncludes != "" {
		return strings.Contains(probe.URL(), cond.URLIncludes)
	}
	if cond.URLMatches != "" {
		re, err := regexp.Compile(cond.URLMatches)
		if err != nil {
			return false
		}
		return re.MatchString(probe.URL())
	}
	return true
}

// WaitUntil 轮询谓词直到为真或超时；超时返回 false，不报错
func WaitUntil(ctx context.Context, pred func() bool, timeout, interval time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// WaitForStart 等待规则的启动条件成立，是自动运行前的闸门。
// exists 条件走元素等待（可要求可见），超时吞掉只返回 false；
// url 两种条件轮询判定；无条件立即放行。
func WaitForStart(ctx context.Context, probe PageProbe, cond *models.Condition, timeout time.Duration, requireVisible bool) bool {
	if cond.IsZero() {
		return true
	}

	if cond.Exists != "" {
		var err error
		if requireVisible {
			err = WaitForVisible(ctx, probe, cond.Exists, timeout, DefaultPollInterval)
		} else {
			err = WaitFor(ctx, probe, cond.Exists, timeout, DefaultPollInterval)
		}
		return err == nil
	}

	if cond.URLIncludes != "" {
		return WaitUntil(ctx, func() bool {
			return strings.Contains(probe.URL(), cond.URLIncludes)
		}, timeout, DefaultPollInterval)
	}

	if cond.URLMatches != "" {
		re, err := regexp.Compile(cond.URLMatches)
		if err != nil {
			return false
		}
		return WaitUntil(ctx, func() bool {
			return re.MatchString(probe.URL())
		}, timeout, DefaultPollInterval)
	}

	return true
}
