package models

import (
	"encoding/json"
	"fmt"
)

// 步骤类型常量
// waitFor, type, click, pressKey, delay, submit, setChecked, select, runIf, navigate, log
const (
	ActWaitFor    = "waitFor"
	ActType       = "type"
	ActClick      = "click"
	ActPressKey   = "pressKey"
	ActDelay      = "delay"
	ActSubmit     = "submit"
	ActSetChecked = "setChecked"
	ActSelect     = "select"
	ActRunIf      = "runIf"
	ActNavigate   = "navigate"
	ActLog        = "log"
)

// 凭证字段来源
const (
	TextFromUserID       = "userId"
	TextFromUserPassword = "userPassword"
)

// 默认超时/间隔（毫秒）
const (
	DefaultStepTimeoutMS      = 15000
	DefaultPollIntervalMS     = 150
	DefaultDelayMS            = 300
	DefaultStartWhenTimeoutMS = 20000
)

// knownActs 已知步骤类型集合（校验用）
var knownActs = map[string]bool{
	ActWaitFor:    true,
	ActType:       true,
	ActClick:      true,
	ActPressKey:   true,
	ActDelay:      true,
	ActSubmit:     true,
	ActSetChecked: true,
	ActSelect:     true,
	ActRunIf:      true,
	ActNavigate:   true,
	ActLog:        true,
}

// Condition 声明式条件（三选一；全空视为恒真）
type Condition struct {
	Exists      string `json:"exists,omitempty"`      // CSS 选择器存在
	URLIncludes string `json:"urlIncludes,omitempty"` // URL 包含子串
	URLMatches  string `json:"urlMatches,omitempty"`  // URL 匹配正则
}

// IsZero 三个变体均未填写
func (c *Condition) IsZero() bool {
	return c == nil || (c.Exists == "" && c.URLIncludes == "" && c.URLMatches == "")
}

// Step 规则中的一个操作步骤；执行器不会修改 Step
type Step struct {
	Act      string `json:"act"`                // 步骤类型
	Selector string `json:"selector,omitempty"` // CSS 选择器
	Visible  bool   `json:"visible,omitempty"`  // waitFor/click 要求可见
	Timeout  int    `json:"timeout,omitempty"`  // 等待超时（毫秒）
	Text     string `json:"text,omitempty"`     // type 的字面文本
	TextFrom string `json:"textFrom,omitempty"` // type 的凭证来源：userId / userPassword
	Key      string `json:"key,omitempty"`      // pressKey 的按键（默认 Enter）
	MS       int    `json:"ms,omitempty"`       // delay 时长（毫秒，默认 300）
	Value    string `json:"value,omitempty"`    // select 的选项值
	Checked  bool   `json:"checked,omitempty"`  // setChecked 的目标状态
	URL      string `json:"url,omitempty"`      // navigate 的目标地址
	Message  string `json:"message,omitempty"`  // log 的输出内容

	// runIf 分支
	Condition *Condition `json:"condition,omitempty"`
	Then      []Step     `json:"then,omitempty"`
	Else      []Step     `json:"else,omitempty"`
}

// Rule 站点自动化规则
type Rule struct {
	Pattern          string     `json:"pattern"`                    // 字面前缀或 "regex:<pattern>"
	AutoRun          *bool      `json:"autoRun,omitempty"`          // 缺省为 true
	ContinueOnError  bool       `json:"continueOnError,omitempty"`  // 步骤失败后是否继续
	StartWhen        *Condition `json:"startWhen,omitempty"`        // 启动条件
	StartWhenVisible bool       `json:"startWhenVisible,omitempty"` // startWhen exists 是否要求可见
	StartWhenTimeout int        `json:"startWhenTimeout,omitempty"` // 启动条件等待超时（毫秒，默认 20000）
	Steps            []Step     `json:"steps"`                      // 有序步骤列表
}

// AutoRunEnabled autoRun 缺省为 true，只有显式 false 才关闭
func (r *Rule) AutoRunEnabled() bool {
	return r.AutoRun == nil || *r.AutoRun
}

// StartTimeoutMS 启动条件等待超时（毫秒）
func (r *Rule) StartTimeoutMS() int {
	if r.StartWhenTimeout > 0 {
		return r.StartWhenTimeout
	}
	return DefaultStartWhenTimeoutMS
}

// Copy 深拷贝规则（步骤列表含嵌套分支，走一遍 JSON 最省事也最不易漏字段）
func (r *Rule) Copy() *Rule {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var clone Rule
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return &clone
}

// Credentials 登录凭证，两个不透明字符串；只注入页面，绝不写日志
type Credentials struct {
	UserID       string `json:"userId"`
	UserPassword string `json:"userPassword"`
}

// Missing 任一凭证为空
func (c Credentials) Missing() bool {
	return c.UserID == "" || c.UserPassword == ""
}

// Settings 配置存储中的进程级开关与凭证
type Settings struct {
	Enabled      *bool  `json:"enabled,omitempty"` // 缺省为 true
	UserID       string `json:"userId"`
	UserPassword string `json:"userPassword"`
}

// IsEnabled enabled 缺省为 true
func (s *Settings) IsEnabled() bool {
	return s == nil || s.Enabled == nil || *s.Enabled
}

// Credentials 取出凭证对
func (s *Settings) Credentials() Credentials {
	if s == nil {
		return Credentials{}
	}
	return Credentials{UserID: s.UserID, UserPassword: s.UserPassword}
}

// ValidateStep 校验单个步骤：act 必须是已知类型，runIf 分支递归校验
func ValidateStep(s Step) error {
	if !knownActs[s.Act] {
		return fmt.Errorf("unknown or missing act: %q", s.Act)
	}
	if s.Act == ActRunIf {
		for i, sub := range s.Then {
			if err := ValidateStep(sub); err != nil {
				return fmt.Errorf("then[%d]: %w", i, err)
			}
		}
		for i, sub := range s.Else {
			if err := ValidateStep(sub); err != nil {
				return fmt.Errorf("else[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// ValidateRule 校验规则：pattern 必填，步骤逐个校验
func ValidateRule(r Rule) error {
	if r.Pattern == "" {
		return fmt.Errorf("rule pattern is required")
	}
	for i, s := range r.Steps {
		if err := ValidateStep(s); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateRules 校验整个规则列表
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := ValidateRule(r); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseRules 从 JSON 解析规则列表；顶层必须是数组
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules must be a JSON array: %w", err)
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ExportRules 序列化规则列表（导出与存储共用同一格式）
func ExportRules(rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	return json.MarshalIndent(rules, "", "  ")
}

// DefaultRules 内置示例规则：首次启动无规则时写入，演示完整登录流程
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern:          "https://student.mytcas.com",
			ContinueOnError:  false,
			StartWhen:        &Condition{Exists: "input[type='text'][required]"},
			StartWhenVisible: true,
			StartWhenTimeout: 20000,
			Steps: []Step{
				{Act: ActWaitFor, Selector: "input[type='text'][required]", Timeout: 20000, Visible: true},
				{Act: ActType, Selector: "input[type='text'][required]", TextFrom: TextFromUserID},
				{Act: ActClick, Selector: "a.btn-main, button.btn-main, [class*='btn-main']"},
				{Act: ActWaitFor, Selector: "input[type='password']", Visible: true},
				{Act: ActType, Selector: "input[type='password']", TextFrom: TextFromUserPassword},
				{Act: ActClick, Selector: "a.btn-main, button.btn-main, [class*='btn-main']"},
			},
		},
	}
}
