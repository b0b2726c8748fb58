package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

// clickSettle 点击前滚动到可视区域后的停顿
const clickSettle = 50 * time.Millisecond

// PageProbe 在 rod 页面上实现探测与注入原语。
// 所有元素访问走一次性的选择器解析，不缓存元素引用；
// 存在性判断走页面内 JS 求值，一次往返，不触发 rod 的内置重试。
type PageProbe struct {
	page *rod.Page
}

func NewPageProbe(page *rod.Page) *PageProbe {
	return &PageProbe{page: page}
}

func (p *PageProbe) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Exists 一次同步查询选择器是否命中
func (p *PageProbe) Exists(selector string) bool {
	result, err := p.page.Eval(`(sel) => document.querySelector(sel) !== null`, selector)
	if err != nil {
		return false
	}
	return result.Value.Bool()
}

// ExistsVisible 命中且可见：非 display:none、非 visibility:hidden、渲染盒非零
func (p *PageProbe) ExistsVisible(selector string) bool {
	result, err := p.page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}`, selector)
	if err != nil {
		return false
	}
	return result.Value.Bool()
}

// SetValue 用平台原生 value setter 写入再派发 input/change 事件，
// 绕过框架对 value 属性的劫持（React 受控输入框只认原生 setter）
func (p *PageProbe) SetValue(ctx context.Context, selector, text string) error {
	_, err := p.page.Context(ctx).Eval(`(sel, text) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error('element not found: ' + sel);
		const proto = el instanceof HTMLTextAreaElement
			? HTMLTextAreaElement.prototype
			: HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
		el.focus();
		setter.call(el, text);
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`, selector, text)
	return errors.Wrapf(err, "set value on %s", selector)
}

// Click 命中即在页面内直接 el.click()，不滚动不停顿
func (p *PageProbe) Click(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error('element not found: ' + sel);
		el.click();
	}`, selector)
	return errors.Wrapf(err, "click %s", selector)
}

// ClickVisible 滚动到可视区域，短暂停顿等布局稳定，再点击。
// rod 的点击被遮挡时会失败，退回页面内 el.click()
func (p *PageProbe) ClickVisible(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return errors.Wrapf(err, "element not found: %s", selector)
	}
	if err := el.ScrollIntoView(); err == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clickSettle):
		}
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		_, jsErr := p.page.Context(ctx).Eval(`(sel) => {
			const el = document.querySelector(sel);
			if (!el) throw new Error('element not found: ' + sel);
			el.click();
		}`, selector)
		return errors.Wrapf(jsErr, "click %s", selector)
	}
	return nil
}

// PressKey 对选中元素（默认当前聚焦元素）派发按键
func (p *PageProbe) PressKey(ctx context.Context, selector, key string) error {
	if selector != "" {
		el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
		if err != nil {
			return errors.Wrapf(err, "element not found: %s", selector)
		}
		if err := el.Focus(); err != nil {
			return errors.Wrapf(err, "focus %s", selector)
		}
	}
	k, ok := keyFromName(key)
	if !ok {
		// 未知按键走合成键盘事件，覆盖面比 CDP 按键表大
		_, err := p.page.Context(ctx).Eval(`(key) => {
			const target = document.activeElement || document.body;
			for (const type of ['keydown', 'keyup']) {
				target.dispatchEvent(new KeyboardEvent(type, { key, bubbles: true }));
			}
		}`, key)
		return errors.Wrapf(err, "press key %s", key)
	}
	return errors.Wrapf(p.page.Context(ctx).Keyboard.Type(k), "press key %s", key)
}

// Submit 提交元素自身、最近祖先或聚焦元素所属的 form；找不到 form 静默跳过
func (p *PageProbe) Submit(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Eval(`(sel) => {
		let el = sel ? document.querySelector(sel) : document.activeElement;
		if (!el) return;
		const form = el instanceof HTMLFormElement ? el : (el.form || el.closest('form'));
		if (!form) return;
		if (typeof form.requestSubmit === 'function') {
			form.requestSubmit();
		} else {
			form.submit();
		}
	}`, selector)
	return errors.Wrapf(err, "submit %s", selector)
}

// SetChecked 仅当元素确为 checkbox 时生效，类型不符静默跳过
func (p *PageProbe) SetChecked(ctx context.Context, selector string, checked bool) error {
	_, err := p.page.Context(ctx).Eval(`(sel, checked) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error('element not found: ' + sel);
		if (!(el instanceof HTMLInputElement) || el.type !== 'checkbox') return;
		if (el.checked !== checked) {
			el.checked = checked;
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}
	}`, selector, checked)
	return errors.Wrapf(err, "set checked on %s", selector)
}

// SelectOption 仅当元素确为 select 时设置选项，类型不符静默跳过
func (p *PageProbe) SelectOption(ctx context.Context, selector, value string) error {
	_, err := p.page.Context(ctx).Eval(`(sel, value) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error('element not found: ' + sel);
		if (!(el instanceof HTMLSelectElement)) return;
		el.value = value;
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`, selector, value)
	return errors.Wrapf(err, "select option on %s", selector)
}

// Navigate 整页跳转
func (p *PageProbe) Navigate(ctx context.Context, url string) error {
	return errors.Wrapf(p.page.Context(ctx).Navigate(url), "navigate to %s", url)
}

// keyFromName 把常用按键名映射为 CDP 按键；单字符直接按字面键处理
func keyFromName(name string) (input.Key, bool) {
	switch name {
	case "Enter":
		return input.Enter, true
	case "Tab":
		return input.Tab, true
	case "Escape":
		return input.Escape, true
	case "Backspace":
		return input.Backspace, true
	case "ArrowUp":
		return input.ArrowUp, true
	case "ArrowDown":
		return input.ArrowDown, true
	case "ArrowLeft":
		return input.ArrowLeft, true
	case "ArrowRight":
		return input.ArrowRight, true
	}
	r := []rune(name)
	if len(r) == 1 {
		return input.Key(r[0]), true
	}
	return 0, false
}
