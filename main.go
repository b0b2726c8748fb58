package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/autoflow/autoflow/api"
	"github.com/autoflow/autoflow/config"
	"github.com/autoflow/autoflow/models"
	"github.com/autoflow/autoflow/pkg/logger"
	"github.com/autoflow/autoflow/services/browser"
	"github.com/autoflow/autoflow/storage"
)

// 构建信息变量，通过Makefile的LDFLAGS注入
var (
	Version   = "v0.1.0"
	BuildTime = ""
	GoVersion = ""
)

func main() {
	// 命令行参数
	port := flag.String("port", "", "Server port (default: 8080)")
	host := flag.String("host", "", "Server host (default: 0.0.0.0)")
	configPath := flag.String("config", "config.toml", "Path to config file (default: config.toml)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config file, using default config: %v", err)
	}

	logger.InitLogger(cfg.Log)

	// 优先级: 命令行参数 > 环境变量 > 配置文件
	if *port != "" {
		cfg.Server.Port = *port
	} else if envPort := os.Getenv("PORT"); envPort != "" {
		cfg.Server.Port = envPort
	}

	if *host != "" {
		cfg.Server.Host = *host
	} else if envHost := os.Getenv("HOST"); envHost != "" {
		cfg.Server.Host = envHost
	}

	// 确保数据库目录存在
	dbDir := filepath.Dir(cfg.Database.Path)
	err = os.MkdirAll(dbDir, 0o755)
	if err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// 初始化数据库
	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	log.Println("✓ Database initialization successful")

	// 首次启动写入内置示例规则
	if err := seedDefaultRules(db); err != nil {
		log.Printf("Warning: Failed to seed default rules: %v", err)
	}

	// 初始化浏览器管理器
	browserManager := browser.NewManager(cfg, db)
	log.Println("✓ Browser manager initialized successfully")

	// 创建HTTP处理器
	handler := api.NewHandler(db, browserManager, cfg)
	router := api.SetupRouter(handler, cfg.Debug)

	// 设置优雅退出
	setupGracefulShutdown(browserManager, db)

	// 启动服务器
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("🚀 AutoFlow server started at http://%s", addr)

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// seedDefaultRules 规则列表为空时写入内置示例规则
func seedDefaultRules(db *storage.BoltDB) error {
	ctx := context.Background()
	rules, err := db.Rules(ctx)
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		return nil
	}
	defaults := models.DefaultRules()
	if err := db.ReplaceRules(ctx, defaults); err != nil {
		return err
	}
	log.Printf("Seeded %d default rules", len(defaults))
	return nil
}

// setupGracefulShutdown 设置优雅退出，自动关闭浏览器
func setupGracefulShutdown(browserManager *browser.Manager, db *storage.BoltDB) {
	sigChan := make(chan os.Signal, 1)
	// 监听 SIGINT (Ctrl+C) 和 SIGTERM
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("\nReceived exit signal: %v", sig)
		log.Println("Exiting gracefully...")

		// 创建超时上下文，最多等待 10 秒
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 检查并关闭浏览器
		if browserManager.IsRunning() {
			log.Println("Browser is running, closing...")
			if err := browserManager.Stop(); err != nil {
				log.Printf("Failed to close browser: %v", err)
			} else {
				log.Println("✓ Browser closed")
			}
		} else {
			log.Println("Browser is not running, no need to close")
		}

		// 关闭数据库
		if db != nil {
			log.Println("Closing database...")
			if err := db.Close(); err != nil {
				log.Printf("Failed to close database: %v", err)
			} else {
				log.Println("✓ Database closed")
			}
		}

		// 等待或超时
		select {
		case <-ctx.Done():
			log.Println("Cleanup timeout, force exit")
		case <-time.After(500 * time.Millisecond):
			log.Println("Cleanup completed")
		}

		log.Println("Program exited")
		os.Exit(0)
	}()

	log.Println("✓ Graceful shutdown mechanism started (Ctrl+C will automatically close the browser)")
}
