package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/autoflow/autoflow/config"
	"github.com/autoflow/autoflow/models"
	"github.com/autoflow/autoflow/pkg/logger"
	"github.com/autoflow/autoflow/services/flow"
	"github.com/autoflow/autoflow/storage"
)

// pageWatch 一个被接管页面的运行时信息
type pageWatch struct {
	page  *rod.Page
	probe *PageProbe
	orch  *flow.Orchestrator
	stop  func()
}

// Manager 浏览器管理器。
// 负责启动/停止浏览器进程，接管每个打开的页面：
// 为页面建立探测器与编排器，把 CDP 导航事件翻译成页面事件。
// 访问守卫跨页面共享，浏览器重启即开启新会话。
type Manager struct {
	config *config.Config
	db     *storage.BoltDB

	mu        sync.Mutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	isRunning bool
	startTime time.Time

	guard   *flow.VisitGuard
	watches map[proto.TargetTargetID]*pageWatch
	active  proto.TargetTargetID

	lastEnabled bool
}

// NewManager 创建浏览器管理器并订阅配置变更
func NewManager(cfg *config.Config, db *storage.BoltDB) *Manager {
	m := &Manager{
		config:      cfg,
		db:          db,
		watches:     make(map[proto.TargetTargetID]*pageWatch),
		lastEnabled: true,
	}
	db.Subscribe(func(kind string) {
		if kind == storage.ChangeSettings {
			m.onSettingsChange()
		}
	})
	return m
}

// Start 启动浏览器
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("browser is already running")
	}

	logger.Info(ctx, "Starting browser...")

	var browser *rod.Browser

	// 检查是否配置了远程 Chrome URL
	if m.config.Browser != nil && m.config.Browser.ControlURL != "" {
		url := m.config.Browser.ControlURL
		logger.Info(ctx, "Using remote Chrome browser, control URL: %s", url)
		browser = rod.New().ControlURL(url)
	} else {
		logger.Info(ctx, "Starting local Chrome browser...")

		// 根据配置决定是否使用 headless 模式，缺省按运行环境自动判断
		headless := isHeadlessEnvironment()
		if m.config.Browser != nil && m.config.Browser.Headless != nil {
			headless = *m.config.Browser.Headless
		}
		logger.Info(ctx, "Headless mode: %v", headless)

		l := launcher.New().
			Headless(headless).
			Devtools(false).
			Leakless(false)

		if m.config.Browser != nil && m.config.Browser.Proxy != "" {
			l = l.Proxy(m.config.Browser.Proxy)
			logger.Info(ctx, "Using proxy: %s", m.config.Browser.Proxy)
		}

		// 应用配置的启动参数
		launchArgs := defaultLaunchArgs
		if m.config.Browser != nil && len(m.config.Browser.LaunchArgs) > 0 {
			launchArgs = m.config.Browser.LaunchArgs
		}
		for _, arg := range launchArgs {
			arg = strings.TrimPrefix(arg, "--")
			if strings.Contains(arg, "=") {
				parts := strings.SplitN(arg, "=", 2)
				l = l.Set(flags.Flag(parts[0]), parts[1])
			} else {
				l = l.Set(flags.Flag(arg))
			}
		}

		// 设置浏览器路径
		if m.config.Browser != nil && m.config.Browser.BinPath != "" {
			l = l.Bin(m.config.Browser.BinPath)
			logger.Info(ctx, "Using browser path: %s", m.config.Browser.BinPath)
		}

		// 设置用户数据目录，保存登录状态
		if m.config.Browser != nil && m.config.Browser.UserDataDir != "" {
			userDataDir := m.config.Browser.UserDataDir
			if err := os.MkdirAll(userDataDir, 0o755); err != nil {
				logger.Warn(ctx, "Failed to create user data directory: %v", err)
			} else {
				l = l.UserDataDir(userDataDir)
				logger.Info(ctx, "Using user data directory: %s", userDataDir)
			}
		} else {
			logger.Warn(ctx, "User data directory not configured, login state will not be saved")
		}

		logger.Info(ctx, "Starting browser process...")
		url, err := l.Launch()
		if err != nil {
			if strings.Contains(err.Error(), "already") || strings.Contains(err.Error(), "session") {
				return fmt.Errorf("Chrome is already running with the same user data directory, please close all Chrome windows and try again")
			}
			return fmt.Errorf("failed to start browser: %w", err)
		}
		logger.Info(ctx, "Browser control URL: %s", url)

		browser = rod.New().ControlURL(url)
		m.launcher = l
	}

	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect browser: %w", err)
	}

	version, err := browser.Version()
	if err != nil {
		logger.Warn(ctx, "Failed to get browser version: %v", err)
	} else {
		logger.Info(ctx, "Browser version: %s", version.Product)
	}

	m.browser = browser
	m.isRunning = true
	m.startTime = time.Now()
	// 新会话，访问守卫从零开始
	m.guard = flow.NewVisitGuard()

	settings, err := m.db.Settings(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to load settings: %v", err)
	} else {
		m.lastEnabled = settings.IsEnabled()
	}

	// 接管浏览器内后续打开的所有页面（含用户手动开的标签页）
	go m.watchTargets(browser)

	logger.Info(ctx, "Browser started successfully, session %s", m.guard.SessionID())
	return nil
}

// defaultLaunchArgs 未配置启动参数时的默认值
var defaultLaunchArgs = []string{
	"disable-blink-features=AutomationControlled",
	"no-first-run",
	"no-default-browser-check",
	"window-size=1920,1080",
}

// Stop 停止浏览器
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return fmt.Errorf("browser is not running")
	}

	ctx := context.Background()
	isRemoteMode := m.config.Browser != nil && m.config.Browser.ControlURL != ""

	// 先停掉所有页面监听
	for id, w := range m.watches {
		w.stop()
		delete(m.watches, id)
	}
	m.active = ""

	if m.browser != nil {
		if !isRemoteMode {
			// 仅在本地模式下关闭页面，让浏览器有机会保存数据
			if pages, err := m.browser.Pages(); err == nil {
				for _, page := range pages {
					_ = page.Close()
				}
			}
			time.Sleep(1 * time.Second)
		}
		if err := m.browser.Close(); err != nil {
			logger.Warn(ctx, "Error when closing browser connection: %v", err)
		}
	}

	if !isRemoteMode && m.launcher != nil {
		time.Sleep(1 * time.Second)
		// 不调用 launcher.Cleanup()，它会删除用户数据目录
		m.launcher.Kill()
		logger.Info(ctx, "Browser process terminated")
	}

	m.browser = nil
	m.launcher = nil
	m.isRunning = false
	m.guard = nil

	logger.Info(ctx, "Browser fully closed")
	return nil
}

// IsRunning 检查浏览器是否运行
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// Status 获取浏览器状态
func (m *Manager) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]interface{}{
		"is_running": m.isRunning,
	}
	if m.isRunning {
		status["start_time"] = m.startTime.Format(time.RFC3339)
		status["uptime"] = time.Since(m.startTime).String()
		status["pages_count"] = len(m.watches)
		if m.guard != nil {
			status["session_id"] = m.guard.SessionID()
		}
	}
	return status
}

// OpenPage 打开一个新页面并接管
func (m *Manager) OpenPage(ctx context.Context, url string) error {
	m.mu.Lock()
	browser := m.browser
	running := m.isRunning
	m.mu.Unlock()

	if !running || browser == nil {
		return fmt.Errorf("browser is not running")
	}

	// 缺省开启 stealth，降低被站点识别为自动化的概率
	useStealth := true
	if m.config.Browser != nil && m.config.Browser.Stealth != nil {
		useStealth = *m.config.Browser.Stealth
	}

	var page *rod.Page
	var err error
	if useStealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	if err := page.Timeout(60 * time.Second).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to page: %w", err)
	}
	if err := page.Timeout(60 * time.Second).WaitLoad(); err != nil {
		logger.Warn(ctx, "Failed to wait for page load: %v", err)
	}

	logger.Info(ctx, "Page opened: %s", url)
	return nil
}

// watchTargets 监听浏览器的 target 创建/销毁，接管每个 page 类型的 target
func (m *Manager) watchTargets(browser *rod.Browser) {
	ctx := browser.GetContext()

	err := proto.TargetSetDiscoverTargets{Discover: true}.Call(browser)
	if err != nil {
		logger.Error(ctx, "Failed to enable target discovery: %v", err)
		return
	}

	browser.EachEvent(func(e *proto.TargetTargetCreated) {
		if e.TargetInfo.Type != "page" {
			return
		}
		page, err := browser.PageFromTarget(e.TargetInfo.TargetID)
		if err != nil {
			logger.Warn(ctx, "Failed to attach page %s: %v", e.TargetInfo.TargetID, err)
			return
		}
		m.attach(page, e.TargetInfo.TargetID)
	}, func(e *proto.TargetTargetDestroyed) {
		m.detach(e.TargetID)
	})()
}

// attach 接管一个页面：建立探测器与编排器，翻译导航事件。
// 同一页面重复 attach 是幂等的。
func (m *Manager) attach(page *rod.Page, id proto.TargetTargetID) {
	m.mu.Lock()
	if _, exists := m.watches[id]; exists {
		m.mu.Unlock()
		return
	}
	if m.guard == nil {
		m.mu.Unlock()
		return
	}
	probe := NewPageProbe(page)
	orch := flow.NewOrchestrator(probe, m.db, m.guard, m.db)

	watchCtx, cancel := context.WithCancel(context.Background())
	w := &pageWatch{page: page, probe: probe, orch: orch, stop: cancel}
	m.watches[id] = w
	m.active = id
	m.mu.Unlock()

	logger.Info(watchCtx, "Attached page target %s", id)

	// 事件处理不能阻塞 CDP 事件循环，每个事件单独起 goroutine
	go page.Context(watchCtx).EachEvent(func(e *proto.PageLoadEventFired) {
		go w.orch.HandleEvent(watchCtx, flow.Event{Kind: flow.EventPageReady, URL: probe.URL()})
	}, func(e *proto.PageNavigatedWithinDocument) {
		// 单页应用内路由变化，没有整页加载
		go w.orch.HandleEvent(watchCtx, flow.Event{Kind: flow.EventRouteChange, URL: e.URL})
	}, func(e *proto.PageFrameNavigated) {
		if e.Frame.ParentID != "" {
			return
		}
		if e.Type == proto.PageNavigationTypeBackForwardCacheRestore {
			// 从前进/后退缓存恢复，不会再触发 load 事件
			go w.orch.HandleEvent(watchCtx, flow.Event{Kind: flow.EventRestore, URL: e.Frame.URL})
		}
	})()
}

func (m *Manager) detach(id proto.TargetTargetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, exists := m.watches[id]; exists {
		w.stop()
		delete(m.watches, id)
		if m.active == id {
			m.active = ""
			for other := range m.watches {
				m.active = other
				break
			}
		}
	}
}

// activeWatch 当前活动页面的接管信息
func (m *Manager) activeWatch() *pageWatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil
	}
	return m.watches[m.active]
}

// RunNow 手动触发当前页面的流程。
// 没有已接管页面且给了 url 时，先开页面再触发一次。
func (m *Manager) RunNow(ctx context.Context, url string) (*models.FlowResult, error) {
	w := m.activeWatch()
	if w == nil {
		if url == "" {
			return nil, fmt.Errorf("no page is open")
		}
		if err := m.OpenPage(ctx, url); err != nil {
			return nil, err
		}
		// attach 由 target 事件异步完成，稍等再取
		deadline := time.Now().Add(5 * time.Second)
		for w == nil && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
			w = m.activeWatch()
		}
		if w == nil {
			return nil, fmt.Errorf("page was opened but could not be attached")
		}
	}
	return w.orch.RunNow(ctx)
}

// MatchStatus 当前活动页面的规则命中情况
func (m *Manager) MatchStatus(ctx context.Context) (*models.MatchStatus, error) {
	w := m.activeWatch()
	if w == nil {
		return &models.MatchStatus{Matched: false}, nil
	}
	return w.orch.MatchStatus(ctx)
}

// onSettingsChange 总开关由关到开时，对所有已接管页面派发 toggle-on 事件
func (m *Manager) onSettingsChange() {
	ctx := context.Background()
	settings, err := m.db.Settings(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to reload settings: %v", err)
		return
	}
	enabled := settings.IsEnabled()

	m.mu.Lock()
	prev := m.lastEnabled
	m.lastEnabled = enabled
	var targets []*pageWatch
	if !prev && enabled {
		for _, w := range m.watches {
			targets = append(targets, w)
		}
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	logger.Info(ctx, "Auto run re-enabled, notifying %d pages", len(targets))
	for _, w := range targets {
		go w.orch.HandleEvent(ctx, flow.Event{Kind: flow.EventToggleOn, URL: w.probe.URL()})
	}
}

// isHeadlessEnvironment 检测当前环境是否为无GUI环境
func isHeadlessEnvironment() bool {
	// 1. 优先检查是否在 Docker 容器中
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	// 2. 检查 cgroup 文件是否包含 docker 或 containerd 标识（仅限 Linux）
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}

	// 3. Windows 和 macOS 默认有 GUI 环境
	osType := strings.ToLower(runtime.GOOS)
	if osType == "windows" || osType == "darwin" {
		return false
	}

	// 4. Linux 环境下检查 DISPLAY 和 WAYLAND_DISPLAY 环境变量
	if osType == "linux" {
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return true
		}
	}

	return false
}
