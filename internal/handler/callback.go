package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xuyupeng07/WeChatBot/internal/model"
	"github.com/xuyupeng07/WeChatBot/internal/service"
	"github.com/xuyupeng07/WeChatBot/internal/wechat"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// CallbackHandler 企业微信智能机器人回调入口
type CallbackHandler struct {
	crypto *wechat.Crypto
	engine *service.Engine
}

func NewCallbackHandler(crypto *wechat.Crypto, engine *service.Engine) *CallbackHandler {
	return &CallbackHandler{crypto: crypto, engine: engine}
}

// Verify 回调地址校验（GET）：验签并回显解密后的echostr明文
func (h *CallbackHandler) Verify(c *gin.Context) {
	signature := c.Query("msg_signature")
	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")
	echostr := c.Query("echostr")

	plaintext, err := h.crypto.VerifyURL(signature, timestamp, nonce, echostr)
	if err != nil {
		logger.Warnf("回调地址校验失败: %v", err)
		c.String(http.StatusBadRequest, "verify failed")
		return
	}

	logger.Info("回调地址校验成功")
	c.String(http.StatusOK, plaintext)
}

type callbackBody struct {
	Encrypt string `json:"encrypt"`
}

// Receive 回调消息处理（POST）：验签、解密、分发给引擎，
// 再把回复加密后返回。空回复用裸的{}应答
func (h *CallbackHandler) Receive(c *gin.Context) {
	signature := c.Query("msg_signature")
	timestamp := c.Query("timestamp")
	nonce := c.Query("nonce")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "read body failed")
		return
	}

	var body callbackBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Encrypt == "" {
		c.String(http.StatusBadRequest, "invalid body")
		return
	}

	if h.crypto.Signature(timestamp, nonce, body.Encrypt) != signature {
		logger.Warn("回调消息验签失败")
		c.String(http.StatusForbidden, "signature mismatch")
		return
	}

	plaintext, _, err := h.crypto.Decrypt(body.Encrypt)
	if err != nil {
		logger.Errorf("回调消息解密失败: %v", err)
		c.String(http.StatusBadRequest, "decrypt failed")
		return
	}

	var msg model.Message
	if err := json.Unmarshal([]byte(plaintext), &msg); err != nil {
		logger.Errorf("回调消息解析失败: %v", err)
		c.String(http.StatusBadRequest, "invalid message")
		return
	}

	logger.WithFields(map[string]interface{}{
		"msgtype": msg.MsgType,
		"msgid":   msg.MsgID,
		"from":    msg.UserKey(),
	}).Debug("收到回调消息")

	reply := h.engine.HandleMessage(&msg)
	if reply == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	replyJSON, err := json.Marshal(reply)
	if err != nil {
		logger.Errorf("回复序列化失败: %v", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	encrypted, err := h.crypto.Encrypt(string(replyJSON), timestamp, nonce)
	if err != nil {
		logger.Errorf("回复加密失败: %v", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	c.JSON(http.StatusOK, encrypted)
}
