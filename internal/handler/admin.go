package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xuyupeng07/WeChatBot/internal/config"
	"github.com/xuyupeng07/WeChatBot/internal/service"
	"github.com/xuyupeng07/WeChatBot/internal/wechat"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// AdminHandler 健康检查、运行统计与调试接口
type AdminHandler struct {
	cfg     *config.Config
	engine  *service.Engine
	webhook *wechat.WebhookClient
}

func NewAdminHandler(cfg *config.Config, engine *service.Engine, webhook *wechat.WebhookClient) *AdminHandler {
	return &AdminHandler{cfg: cfg, engine: engine, webhook: webhook}
}

func (h *AdminHandler) Health(c *gin.Context) {
	snapshot := h.engine.Health()
	snapshot["timestamp"] = time.Now().Unix()
	c.JSON(http.StatusOK, snapshot)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.StatsSnapshot())
}

func (h *AdminHandler) ResetStats(c *gin.Context) {
	h.engine.ResetStats()
	c.JSON(http.StatusOK, gin.H{"message": "统计信息已重置"})
}

// Upload 上传文件到公开目录，返回可被AI后端拉取的URL
func (h *AdminHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".bin"
	}
	name := uuid.NewString() + ext
	dest := filepath.Join(h.cfg.Server.PublicDir, "images", name)

	if err := c.SaveUploadedFile(file, dest); err != nil {
		logger.Errorf("上传文件保存失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":  fmt.Sprintf("%s/public/images/%s", h.cfg.Server.Host, name),
		"size": file.Size,
	})
}

type webhookTestRequest struct {
	Content string `json:"content"`
}

// TestWebhook 调试接口：向群机器人推送一条文本
func (h *AdminHandler) TestWebhook(c *gin.Context) {
	var req webhookTestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		req.Content = "Webhook测试消息"
	}

	if err := h.webhook.SendText(c.Request.Context(), req.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "发送成功"})
}
