package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/xuyupeng07/WeChatBot/internal/config"
	"github.com/xuyupeng07/WeChatBot/internal/handler"
	"github.com/xuyupeng07/WeChatBot/internal/service"
	"github.com/xuyupeng07/WeChatBot/internal/storage"
	"github.com/xuyupeng07/WeChatBot/internal/utils"
	"github.com/xuyupeng07/WeChatBot/internal/wechat"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

func main() {
	// .env 不存在时静默跳过
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 附件落盘目录
	for _, sub := range []string{"images", "files"} {
		if err := os.MkdirAll(filepath.Join(cfg.Server.PublicDir, sub), 0755); err != nil {
			logger.Fatalf("创建公开目录失败: %v", err)
		}
	}

	// 回调加解密
	crypto, err := wechat.NewCrypto(cfg.WeChat.Token, cfg.WeChat.AESKey, cfg.WeChat.CorpID)
	if err != nil {
		logger.Fatalf("初始化回调加解密失败: %v", err)
	}

	httpClient := utils.NewHTTPClient()

	downloader, err := wechat.NewMediaDownloader(httpClient, cfg.WeChat.AESKey, cfg.Server.PublicDir)
	if err != nil {
		logger.Fatalf("初始化媒体下载器失败: %v", err)
	}

	// 初始化引擎
	store := storage.NewMemoryStore()
	stats := service.NewStats()
	gateway := service.NewGateway(&cfg.AI, httpClient, store, stats)
	preparer := service.NewAttachmentPreparer(downloader, cfg.Server.Host)
	engine := service.NewEngine(cfg, store, gateway, preparer, stats)

	webhook := wechat.NewWebhookClient(httpClient, cfg.WeChat.WebhookURL)

	// 后台清理任务
	stopReaper := make(chan struct{})
	go service.NewReaper(cfg, store).Run(stopReaper)

	// 创建路由
	callbackHandler := handler.NewCallbackHandler(crypto, engine)
	adminHandler := handler.NewAdminHandler(cfg, engine, webhook)
	router := setupRouter(cfg, callbackHandler, adminHandler)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	close(stopReaper)
	if err := server.Close(); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	engine.Shutdown()
	logger.Info("服务器已关闭")
}

func setupRouter(cfg *config.Config, callbackHandler *handler.CallbackHandler, adminHandler *handler.AdminHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// 附件静态目录，供AI后端下载
	router.Static("/public", cfg.Server.PublicDir)

	// 企业微信回调
	router.GET("/callback", callbackHandler.Verify)
	router.POST("/callback", callbackHandler.Receive)

	// 运维接口
	router.GET("/health", adminHandler.Health)
	router.GET("/stats", adminHandler.Stats)
	router.POST("/stats/reset", adminHandler.ResetStats)
	router.POST("/upload", adminHandler.Upload)
	router.POST("/test/webhook", adminHandler.TestWebhook)

	return router
}
