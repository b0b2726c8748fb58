package flow

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// VisitGuard 按（会话 × 归一化 URL）记录自动流程是否已运行过，
// 保证同一次访问内至多触发一次。生命周期等同一次浏览会话：
// 会话 id 在创建时随机生成，重建 guard 即是新会话。
// CDP 事件来自多个 goroutine，读写都要上锁。
type VisitGuard struct {
	sessionID string
	mu        sync.Mutex
	ran       map[uint64]bool
}

func NewVisitGuard() *VisitGuard {
	return &VisitGuard{
		sessionID: uuid.New().String(),
		ran:       make(map[uint64]bool),
	}
}

// SessionID 当前会话标识
func (g *VisitGuard) SessionID() string {
	return g.sessionID
}

// key = hash(sessionID, 归一化 URL)
func (g *VisitGuard) key(url string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(g.sessionID))
	h.Write([]byte("::"))
	h.Write([]byte(NormalizeURL(url)))
	return h.Sum64()
}

// HasRun 该 URL 在本会话内是否已运行过
func (g *VisitGuard) HasRun(url string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ran[g.key(url)]
}

// MarkRun 标记该 URL 已运行
func (g *VisitGuard) MarkRun(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ran[g.key(url)] = true
}

// Reset 只清除目标 URL 的标记，不影响其他 URL；
// 清除是同一会话内允许重跑的唯一途径。
func (g *VisitGuard) Reset(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ran, g.key(url))
}
