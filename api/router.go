package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(handler *Handler, isDebug bool) *gin.Engine {
	var r *gin.Engine
	if isDebug {
		gin.SetMode(gin.DebugMode)
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}

	// TraceID 中间件 - 必须在其他中间件之前
	r.Use(TraceIDMiddleware())

	// CORS配置 - 本地工具，允许所有来源
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Trace-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Trace-ID"},
		AllowCredentials: false, // AllowAllOrigins 为 true 时必须设置为 false
	}))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		// 浏览器相关
		browserAPI := api.Group("/browser")
		{
			browserAPI.POST("/start", handler.StartBrowser)
			browserAPI.POST("/stop", handler.StopBrowser)
			browserAPI.GET("/status", handler.BrowserStatus)
			browserAPI.POST("/open", handler.OpenBrowserPage)
		}

		// 设置相关
		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings", handler.UpdateSettings)
		api.PUT("/settings/enabled", handler.SetEnabled)

		// 规则相关
		rules := api.Group("/rules")
		{
			rules.GET("", handler.ListRules)
			rules.PUT("", handler.ReplaceRules)
			rules.POST("/validate", handler.ValidateRulesOnly)
			rules.GET("/export", handler.ExportRules)
			rules.POST("/import", handler.ImportRules)
		}

		// 流程相关
		flowAPI := api.Group("/flow")
		{
			flowAPI.POST("/run", handler.RunFlow)
			flowAPI.GET("/match", handler.FlowMatch)
		}

		// 流程运行记录
		executions := api.Group("/executions")
		{
			executions.GET("", handler.ListExecutions)
			executions.GET("/:id", handler.GetExecution)
			executions.DELETE("/:id", handler.DeleteExecution)
			executions.POST("/clear", handler.ClearExecutions)
		}
	}

	return r
}
