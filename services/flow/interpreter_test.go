package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoflow/autoflow/models"
)

func creds() models.Credentials {
	return models.Credentials{UserID: "alice", UserPassword: "s3cret"}
}

func TestInterpreterLoginSequence(t *testing.T) {
	probe := newFakeProbe("https://example.com/login")
	probe.addElement("#u", true)
	probe.addElement("#p", true)
	probe.addElement("#go", true)

	it := NewInterpreter(probe, creds())
	steps := []models.Step{
		{Act: models.ActWaitFor, Selector: "#u", Visible: true},
		{Act: models.ActType, Selector: "#u", TextFrom: models.TextFromUserID},
		{Act: models.ActType, Selector: "#p", TextFrom: models.TextFromUserPassword},
		{Act: models.ActClick, Selector: "#go"},
	}

	err := it.Run(context.Background(), steps, false)
	require.NoError(t, err)

	assert.Equal(t, "alice", probe.values["#u"])
	assert.Equal(t, "s3cret", probe.values["#p"])
	assert.Equal(t, []string{"#go"}, probe.clicks)

	success, failed := it.Stats()
	assert.Equal(t, 4, success)
	assert.Equal(t, 0, failed)
}

func TestInterpreterTypeLiteralText(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#q", true)

	it := NewInterpreter(probe, models.Credentials{})
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActType, Selector: "#q", Text: "hello"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", probe.values["#q"])
}

func TestInterpreterMissingCredential(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#u", true)

	it := NewInterpreter(probe, models.Credentials{UserID: "alice"})
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActType, Selector: "#u", TextFrom: models.TextFromUserPassword},
	}, false)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	// 没有往页面写任何值
	assert.Empty(t, probe.values)
}

func TestInterpreterUnknownTextFrom(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	it := NewInterpreter(probe, creds())
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActType, Selector: "#u", TextFrom: "apiToken"},
	}, false)
	assert.Error(t, err)
}

func TestInterpreterWaitForTimeout(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	it := NewInterpreter(probe, creds())

	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActWaitFor, Selector: "#never", Timeout: 30},
	}, false)
	assert.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestInterpreterContinueOnError(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#a", true)
	probe.addElement("#b", true)
	probe.failSet["#a"] = errors.New("blocked")

	it := NewInterpreter(probe, creds())
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActClick, Selector: "#a"},
		{Act: models.ActClick, Selector: "#b"},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"#b"}, probe.clicks)
	success, failed := it.Stats()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, failed)
}

func TestInterpreterAbortOnError(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#a", true)
	probe.addElement("#b", true)
	probe.failSet["#a"] = errors.New("blocked")

	it := NewInterpreter(probe, creds())
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActClick, Selector: "#a"},
		{Act: models.ActClick, Selector: "#b"},
	}, false)
	assert.Error(t, err)
	assert.Empty(t, probe.clicks)
}

func TestInterpreterRunIfBranches(t *testing.T) {
	probe := newFakeProbe("https://example.com/login")
	probe.addElement("#then", true)
	probe.addElement("#else", true)

	it := NewInterpreter(probe, creds())
	step := models.Step{
		Act:       models.ActRunIf,
		Condition: &models.Condition{URLIncludes: "/login"},
		Then:      []models.Step{{Act: models.ActClick, Selector: "#then"}},
		Else:      []models.Step{{Act: models.ActClick, Selector: "#else"}},
	}
	require.NoError(t, it.Run(context.Background(), []models.Step{step}, false))
	assert.Equal(t, []string{"#then"}, probe.clicks)

	probe.clicks = nil
	probe.setURL("https://example.com/home")
	require.NoError(t, it.Run(context.Background(), []models.Step{step}, false))
	assert.Equal(t, []string{"#else"}, probe.clicks)

	// 计数只落在分支内的步骤上，分支容器本身不计
	success, failed := it.Stats()
	assert.Equal(t, 2, success)
	assert.Equal(t, 0, failed)
}

func TestInterpreterRunIfFailureCountedOnce(t *testing.T) {
	probe := newFakeProbe("https://example.com/login")
	probe.addElement("#a", true)
	probe.failSet["#a"] = errors.New("blocked")

	it := NewInterpreter(probe, creds())
	step := models.Step{
		Act:       models.ActRunIf,
		Condition: &models.Condition{URLIncludes: "/login"},
		Then:      []models.Step{{Act: models.ActClick, Selector: "#a"}},
	}
	err := it.Run(context.Background(), []models.Step{step}, false)
	assert.Error(t, err)

	success, failed := it.Stats()
	assert.Equal(t, 0, success)
	assert.Equal(t, 1, failed)
}

func TestInterpreterClickPaths(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#fast", true)
	probe.addElement("#safe", true)

	it := NewInterpreter(probe, creds())
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActClick, Selector: "#fast"},
		{Act: models.ActClick, Selector: "#safe", Visible: true},
	}, false)
	require.NoError(t, err)

	// 未要求可见走立即点击，要求可见走滚动停顿路径
	assert.Equal(t, []string{"#fast"}, probe.clicks)
	assert.Equal(t, []string{"#safe"}, probe.visibleClicks)
}

func TestInterpreterControlKindMismatch(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addControl("#text", "text")

	it := NewInterpreter(probe, creds())
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActSetChecked, Selector: "#text", Checked: true},
		{Act: models.ActSelect, Selector: "#text", Value: "cn"},
	}, false)
	// 控件类型不符静默跳过，不算步骤失败
	require.NoError(t, err)
	assert.Empty(t, probe.checked)
	assert.Empty(t, probe.selects)

	success, failed := it.Stats()
	assert.Equal(t, 2, success)
	assert.Equal(t, 0, failed)
}

func TestInterpreterMiscActs(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	probe.addElement("#cb", true)
	probe.addElement("#sel", true)

	it := NewInterpreter(probe, creds())
	start := time.Now()
	err := it.Run(context.Background(), []models.Step{
		{Act: models.ActPressKey},
		{Act: models.ActPressKey, Key: "Tab"},
		{Act: models.ActDelay, MS: 20},
		{Act: models.ActSubmit, Selector: "#form"},
		{Act: models.ActSetChecked, Selector: "#cb", Checked: true},
		{Act: models.ActSelect, Selector: "#sel", Value: "cn"},
		{Act: models.ActNavigate, URL: "https://example.com/next"},
		{Act: models.ActLog, Message: "done"},
	}, false)
	require.NoError(t, err)

	// pressKey 默认 Enter
	assert.Equal(t, []string{"Enter", "Tab"}, probe.keys)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []string{"#form"}, probe.submits)
	assert.True(t, probe.checked["#cb"])
	assert.Equal(t, "cn", probe.selects["#sel"])
	assert.Equal(t, []string{"https://example.com/next"}, probe.navigated)
}

func TestInterpreterUnknownActIsNoop(t *testing.T) {
	probe := newFakeProbe("https://example.com")
	it := NewInterpreter(probe, creds())

	err := it.Run(context.Background(), []models.Step{
		{Act: "hover", Selector: "#x"},
	}, false)
	assert.NoError(t, err)

	success, failed := it.Stats()
	assert.Equal(t, 1, success)
	assert.Equal(t, 0, failed)
}
