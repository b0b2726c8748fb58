package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitGuardMarkAndReset(t *testing.T) {
	g := NewVisitGuard()

	assert.False(t, g.HasRun("https://a.com/login"))

	g.MarkRun("https://a.com/login")
	assert.True(t, g.HasRun("https://a.com/login"))

	// 尾部斜杠归一化后视为同一 URL
	assert.True(t, g.HasRun("https://a.com/login/"))

	// 清除只影响目标 URL
	g.MarkRun("https://b.com")
	g.Reset("https://a.com/login")
	assert.False(t, g.HasRun("https://a.com/login"))
	assert.True(t, g.HasRun("https://b.com"))
}

func TestVisitGuardSessionIsolation(t *testing.T) {
	g1 := NewVisitGuard()
	g2 := NewVisitGuard()

	assert.NotEqual(t, g1.SessionID(), g2.SessionID())

	g1.MarkRun("https://a.com")
	assert.False(t, g2.HasRun("https://a.com"))
}
