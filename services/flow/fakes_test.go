package flow

import (
	"context"
	"sync"

	"github.com/autoflow/autoflow/models"
)

// fakeProbe 内存中的页面替身，记录所有注入操作
type fakeProbe struct {
	mu sync.Mutex

	url      string
	existing map[string]bool
	visible  map[string]bool

	// appearAfter[sel] 次 Exists 查询后元素才出现，模拟异步渲染
	appearAfter map[string]int

	failSet map[string]error

	// kinds[sel] 控件类型（checkbox / select ...），类型不符的写入静默跳过
	kinds map[string]string

	values        map[string]string
	clicks        []string
	visibleClicks []string
	keys          []string
	submits       []string
	checked       map[string]bool
	selects       map[string]string
	navigated     []string
}

func newFakeProbe(url string) *fakeProbe {
	return &fakeProbe{
		url:         url,
		existing:    make(map[string]bool),
		visible:     make(map[string]bool),
		appearAfter: make(map[string]int),
		failSet:     make(map[string]error),
		kinds:       make(map[string]string),
		values:      make(map[string]string),
		checked:     make(map[string]bool),
		selects:     make(map[string]string),
	}
}

func (p *fakeProbe) addElement(sel string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.existing[sel] = true
	p.visible[sel] = visible
}

func (p *fakeProbe) addControl(sel, kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.existing[sel] = true
	p.visible[sel] = true
	p.kinds[sel] = kind
}

func (p *fakeProbe) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *fakeProbe) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakeProbe) Exists(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.appearAfter[sel]; ok {
		if n > 0 {
			p.appearAfter[sel] = n - 1
			return false
		}
		p.existing[sel] = true
		p.visible[sel] = true
	}
	return p.existing[sel]
}

func (p *fakeProbe) ExistsVisible(sel string) bool {
	if !p.Exists(sel) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[sel]
}

func (p *fakeProbe) SetValue(ctx context.Context, sel, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failSet[sel]; err != nil {
		return err
	}
	p.values[sel] = text
	return nil
}

func (p *fakeProbe) Click(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failSet[sel]; err != nil {
		return err
	}
	p.clicks = append(p.clicks, sel)
	return nil
}

func (p *fakeProbe) ClickVisible(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failSet[sel]; err != nil {
		return err
	}
	p.visibleClicks = append(p.visibleClicks, sel)
	return nil
}

func (p *fakeProbe) PressKey(ctx context.Context, sel, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakeProbe) Submit(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, sel)
	return nil
}

func (p *fakeProbe) SetChecked(ctx context.Context, sel string, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind, ok := p.kinds[sel]; ok && kind != "checkbox" {
		return nil
	}
	p.checked[sel] = checked
	return nil
}

func (p *fakeProbe) SelectOption(ctx context.Context, sel, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind, ok := p.kinds[sel]; ok && kind != "select" {
		return nil
	}
	p.selects[sel] = value
	return nil
}

func (p *fakeProbe) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	return nil
}

// fakeStore 内存配置存储，可注入读取错误
type fakeStore struct {
	mu          sync.Mutex
	settings    models.Settings
	rules       []models.Rule
	settingsErr error
	rulesErr    error
}

func (s *fakeStore) Settings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settingsErr != nil {
		return nil, s.settingsErr
	}
	cp := s.settings
	return &cp, nil
}

func (s *fakeStore) Rules(ctx context.Context) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rulesErr != nil {
		return nil, s.rulesErr
	}
	return s.rules, nil
}

// fakeRecorder 捕获运行记录
type fakeRecorder struct {
	mu    sync.Mutex
	execs []*models.FlowExecution
}

func (r *fakeRecorder) SaveExecution(ctx context.Context, exec *models.FlowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, exec)
	return nil
}

func (r *fakeRecorder) all() []*models.FlowExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FlowExecution, len(r.execs))
	copy(out, r.execs)
	return out
}
