package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/autoflow/autoflow/config"
	"github.com/autoflow/autoflow/models"
	"github.com/autoflow/autoflow/pkg/logger"
	"github.com/autoflow/autoflow/services/browser"
	"github.com/autoflow/autoflow/services/flow"
	"github.com/autoflow/autoflow/storage"
)

type Handler struct {
	db             *storage.BoltDB
	browserManager *browser.Manager
	config         *config.Config
}

func NewHandler(db *storage.BoltDB, browserMgr *browser.Manager, cfg *config.Config) *Handler {
	return &Handler{
		db:             db,
		browserManager: browserMgr,
		config:         cfg,
	}
}

// ============= 浏览器控制相关 API =============

// StartBrowser 启动浏览器
func (h *Handler) StartBrowser(c *gin.Context) {
	if h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserAlreadyRunning"})
		return
	}

	if err := h.browserManager.Start(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "start browser failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.startBrowserFailed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "success.browserStarted",
		"status":  h.browserManager.Status(),
	})
}

// StopBrowser 停止浏览器
func (h *Handler) StopBrowser(c *gin.Context) {
	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	if err := h.browserManager.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.stopBrowserFailed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "success.browserStopped"})
}

// BrowserStatus 获取浏览器状态
func (h *Handler) BrowserStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.browserManager.Status())
}

// OpenBrowserPage 在浏览器中打开页面
func (h *Handler) OpenBrowserPage(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}

	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	if err := h.browserManager.OpenPage(c.Request.Context(), req.URL); err != nil {
		logger.Error(c.Request.Context(), "open page failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.openPageFailed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "success.pageOpened",
		"url":     req.URL,
	})
}

// ============= 设置相关 API =============

// GetSettings 获取设置
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.db.Settings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loadSettingsFailed"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings 更新设置
func (h *Handler) UpdateSettings(c *gin.Context) {
	var settings models.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}

	if err := h.db.SaveSettings(c.Request.Context(), &settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveSettingsFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.settingsSaved"})
}

// SetEnabled 切换自动运行总开关
func (h *Handler) SetEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}

	if err := h.db.SetEnabled(c.Request.Context(), *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveSettingsFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "success.settingsSaved",
		"enabled": *req.Enabled,
	})
}

// ============= 规则相关 API =============

// ListRules 获取规则列表
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.db.Rules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loadRulesFailed"})
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	c.JSON(http.StatusOK, rules)
}

// ReplaceRules 整体替换规则列表
func (h *Handler) ReplaceRules(c *gin.Context) {
	var rules []models.Rule
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}
	if err := models.ValidateRules(rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "error.invalidRules",
			"detail": err.Error(),
		})
		return
	}

	if err := h.db.ReplaceRules(c.Request.Context(), rules); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveRulesFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "success.rulesSaved",
		"count":   len(rules),
	})
}

// ValidateRulesOnly 只校验不保存，编辑器保存前预检用
func (h *Handler) ValidateRulesOnly(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}
	if _, err := models.ParseRules(data); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ExportRules 导出规则为 JSON 文件
func (h *Handler) ExportRules(c *gin.Context) {
	rules, err := h.db.Rules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loadRulesFailed"})
		return
	}
	data, err := models.ExportRules(rules)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.exportRulesFailed"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=rules.json")
	c.Data(http.StatusOK, "application/json", data)
}

// ImportRules 从 JSON 导入规则，整体替换
func (h *Handler) ImportRules(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}
	rules, err := models.ParseRules(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "error.invalidRules",
			"detail": err.Error(),
		})
		return
	}

	if err := h.db.ReplaceRules(c.Request.Context(), rules); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveRulesFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "success.rulesImported",
		"count":   len(rules),
	})
}

// ============= 流程相关 API =============

// RunFlow 手动触发流程。可带 url：没有已打开页面时先开页面再触发
func (h *Handler) RunFlow(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	// body 可以为空
	_ = c.ShouldBindJSON(&req)

	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	result, err := h.browserManager.RunNow(c.Request.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrNoRuleMatched):
			c.JSON(http.StatusBadRequest, gin.H{"error": "error.noRuleMatched"})
		case errors.Is(err, flow.ErrFlowInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "error.flowInProgress"})
		default:
			logger.Error(c.Request.Context(), "run flow failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "error.runFlowFailed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// FlowMatch 当前活动页面的规则命中情况
func (h *Handler) FlowMatch(c *gin.Context) {
	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusOK, &models.MatchStatus{Matched: false})
		return
	}

	status, err := h.browserManager.MatchStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loadRulesFailed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ============= 流程运行记录相关 API =============

// ListExecutions 列出流程运行记录
func (h *Handler) ListExecutions(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	executions, err := h.db.ListExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loadExecutionsFailed"})
		return
	}
	if executions == nil {
		executions = []*models.FlowExecution{}
	}
	c.JSON(http.StatusOK, executions)
}

// GetExecution 获取单条运行记录
func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.db.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "error.executionNotFound"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// DeleteExecution 删除单条运行记录
func (h *Handler) DeleteExecution(c *gin.Context) {
	if err := h.db.DeleteExecution(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.deleteExecutionFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.executionDeleted"})
}

// ClearExecutions 清空运行记录
func (h *Handler) ClearExecutions(c *gin.Context) {
	if err := h.db.ClearExecutions(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.deleteExecutionFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.executionsCleared"})
}
