package flow

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError 轮询等待超出时限
type TimeoutError struct {
	Selector string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("timeout after %s", e.Timeout)
	}
	return fmt.Sprintf("timeout waiting for %s after %s", e.Selector, e.Timeout)
}

// IsTimeout 判断错误链中是否存在 TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

var (
	// ErrMissingCredentials 凭证缺失，流程在执行任何步骤前短路
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrFlowInProgress 当前页面已有流程在执行（重入保护）
	ErrFlowInProgress = errors.New("flow already in progress")
	// ErrNoRuleMatched 当前 URL 没有命中任何规则
	ErrNoRuleMatched = errors.New("no rule matched current url")
)
