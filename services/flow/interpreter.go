package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/autoflow/autoflow/models"
	"github.com/autoflow/autoflow/pkg/logger"
)

// Interpreter 按顺序解释执行规则步骤。
// 每个步骤独立解析选择器，不持有元素引用；
// 凭证只注入页面，任何日志都不输出其内容。
type Interpreter struct {
	probe PageProbe
	creds models.Credentials

	success int
	failed  int
}

func NewInterpreter(probe PageProbe, creds models.Credentials) *Interpreter {
	return &Interpreter{probe: probe, creds: creds}
}

// Stats 累计执行的步骤成败数。
// runIf 分支内的步骤各自计数，分支容器本身不计。
func (it *Interpreter) Stats() (success, failed int) {
	return it.success, it.failed
}

// Run 依次执行步骤列表。
// continueOnError 为 false 时首个失败即中止并返回该错误；
// 为 true 时记录失败继续后续步骤，最终返回 nil。
func (it *Interpreter) Run(ctx context.Context, steps []models.Step, continueOnError bool) error {
	for i, step := range steps {
		logger.Debug(ctx, "step %d/%d: %s %s", i+1, len(steps), step.Act, step.Selector)
		// runIf 只是分支容器，成败记在分支内的步骤上
		if step.Act == models.ActRunIf {
			if err := it.runIf(ctx, step, continueOnError); err != nil {
				return errors.Wrapf(err, "step %d (%s)", i+1, step.Act)
			}
			continue
		}
		if err := it.execStep(ctx, step); err != nil {
			it.failed++
			if continueOnError {
				logger.Warn(ctx, "step %d (%s) failed, continue: %v", i+1, step.Act, err)
				continue
			}
			return errors.Wrapf(err, "step %d (%s)", i+1, step.Act)
		}
		it.success++
	}
	return nil
}

func (it *Interpreter) execStep(ctx context.Context, step models.Step) error {
	switch step.Act {
	case models.ActWaitFor:
		return it.waitFor(ctx, step)
	case models.ActType:
		return it.typeInto(ctx, step)
	case models.ActClick:
		return it.click(ctx, step)
	case models.ActPressKey:
		key := step.Key
		if key == "" {
			key = "Enter"
		}
		return it.probe.PressKey(ctx, step.Selector, key)
	case models.ActDelay:
		return it.delay(ctx, step.MS)
	case models.ActSubmit:
		return it.probe.Submit(ctx, step.Selector)
	case models.ActSetChecked:
		if err := it.waitFor(ctx, step); err != nil {
			return err
		}
		return it.probe.SetChecked(ctx, step.Selector, step.Checked)
	case models.ActSelect:
		if err := it.waitFor(ctx, step); err != nil {
			return err
		}
		return it.probe.SelectOption(ctx, step.Selector, step.Value)
	case models.ActNavigate:
		return it.probe.Navigate(ctx, step.URL)
	case models.ActLog:
		logger.Info(ctx, "rule log: %s", step.Message)
		return nil
	default:
		// 未知步骤类型按空操作处理，旧配置遇到新类型不致整条规则失效
		logger.Warn(ctx, "unknown act %q, skipped", step.Act)
		return nil
	}
}

// waitFor 等待选择器命中，visible 额外要求元素可见
func (it *Interpreter) waitFor(ctx context.Context, step models.Step) error {
	timeout := stepTimeout(step.Timeout)
	if step.Visible {
		return WaitForVisible(ctx, it.probe, step.Selector, timeout, DefaultPollInterval)
	}
	return WaitFor(ctx, it.probe, step.Selector, timeout, DefaultPollInterval)
}

// typeInto 等元素出现后注入文本。textFrom 指定凭证来源时取凭证值，
// 凭证为空直接报缺失，不往页面写空串。
func (it *Interpreter) typeInto(ctx context.Context, step models.Step) error {
	text := step.Text
	switch step.TextFrom {
	case "":
	case models.TextFromUserID:
		text = it.creds.UserID
	case models.TextFromUserPassword:
		text = it.creds.UserPassword
	default:
		return fmt.Errorf("unknown textFrom: %q", step.TextFrom)
	}
	if step.TextFrom != "" && text == "" {
		return ErrMissingCredentials
	}
	if err := it.waitFor(ctx, step); err != nil {
		return err
	}
	return it.probe.SetValue(ctx, step.Selector, text)
}

// click 等元素出现后点击。
// 要求可见时走等可见加滚动停顿的稳妥路径，否则命中即立即点击。
func (it *Interpreter) click(ctx context.Context, step models.Step) error {
	if err := it.waitFor(ctx, step); err != nil {
		return err
	}
	if step.Visible {
		return it.probe.ClickVisible(ctx, step.Selector)
	}
	return it.probe.Click(ctx, step.Selector)
}

func (it *Interpreter) delay(ctx context.Context, ms int) error {
	if ms <= 0 {
		ms = models.DefaultDelayMS
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

// runIf 即时判定条件后走 then 或 else 分支；分支继承错误策略
func (it *Interpreter) runIf(ctx context.Context, step models.Step, continueOnError bool) error {
	if EvaluateOnce(it.probe, step.Condition) {
		return it.Run(ctx, step.Then, continueOnError)
	}
	return it.Run(ctx, step.Else, continueOnError)
}
