package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xuyupeng07/WeChatBot/internal/config"
	"github.com/xuyupeng07/WeChatBot/internal/model"
	"github.com/xuyupeng07/WeChatBot/internal/storage"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// ErrNotConfigured AI后端地址或密钥缺失，调用方需替换为兜底回复
var ErrNotConfigured = errors.New("ai backend not configured")

const sseDataPrefix = "data: "
const sseDoneMarker = "[DONE]"

// httpStatusError 携带状态码的传输层错误，用于错误分级
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// streamCallback 每解析出一个增量就回调一次；done=true表示流正常结束
type streamCallback func(chunk string, done bool)

// Gateway 对AI后端（FastGPT，OpenAI兼容协议）的出站调用。
// 流式路径手工重组SSE帧；非流式路径带重试与响应缓存
type Gateway struct {
	cfg    *config.AIConfig
	client *http.Client
	store  *storage.MemoryStore
	stats  *Stats
}

func NewGateway(cfg *config.AIConfig, client *http.Client, store *storage.MemoryStore, stats *Stats) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: client,
		store:  store,
		stats:  stats,
	}
}

func (g *Gateway) configured() bool {
	return g.cfg.APIURL != "" && g.cfg.APIKey != ""
}

func newRequestID() string {
	return fmt.Sprintf("req_%d_%06d", time.Now().UnixMilli(), rand.Intn(1000000))
}

func cacheKey(content, chatID string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	if len(encoded) > 32 {
		encoded = encoded[:32]
	}
	return fmt.Sprintf("cache_%s_%s", chatID, encoded)
}

func (g *Gateway) newRequest(ctx context.Context, req *model.AIRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "WeChat-AI-Bot/1.0")
	return httpReq, nil
}

// Stream 发起一次流式对话调用。每个增量通过cb转发，返回拼接后的完整回答。
// 调用期间在activeStreams表中记账，交由清扫器兜底
func (g *Gateway) Stream(ctx context.Context, req *model.AIRequest, cb streamCallback) (string, error) {
	if !g.configured() {
		return "", ErrNotConfigured
	}

	requestID := newRequestID()
	g.stats.StreamRequests.Add(1)

	httpReq, err := g.newRequest(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.stats.FailedRequests.Add(1)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.stats.FailedRequests.Add(1)
		return "", &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	g.store.TrackStream(requestID, &model.TrackedConn{
		ChatID:    req.ChatID,
		StartTime: time.Now(),
	})
	defer g.store.UntrackStream(requestID)

	var full strings.Builder
	framer := &lineFramer{}
	buf := make([]byte, 4096)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				chunk, done := g.parseFrame(requestID, line)
				if done {
					cb("", true)
					return full.String(), nil
				}
				if chunk != "" {
					full.WriteString(chunk)
					cb(chunk, false)
				}
			}
		}
		if readErr == io.EOF {
			// 流在[DONE]之前被关闭，处理残留的最后一行
			if chunk, done := g.parseFrame(requestID, framer.Rest()); !done && chunk != "" {
				full.WriteString(chunk)
				cb(chunk, false)
			}
			cb("", true)
			return full.String(), nil
		}
		if readErr != nil {
			g.stats.FailedRequests.Add(1)
			return "", readErr
		}
	}
}

// parseFrame 解析一行SSE帧。非法帧记日志后跳过，不中断整个流
func (g *Gateway) parseFrame(requestID, line string) (chunk string, done bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	data := strings.TrimSpace(line[len(sseDataPrefix):])
	if data == sseDoneMarker {
		return "", true
	}

	var frame openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		preview := data
		if len(preview) > 50 {
			preview = preview[:50]
		}
		logger.Warnf("SSE帧解析失败, 跳过 [%s]: %s", requestID, preview)
		return "", false
	}
	if len(frame.Choices) > 0 {
		return frame.Choices[0].Delta.Content, false
	}
	return "", false
}

// Complete 非流式调用：命中缓存直接返回，否则按线性退避重试。
// 后端未配置时返回ErrNotConfigured，由调用方决定兜底文案
func (g *Gateway) Complete(ctx context.Context, chatID, content string, attachments []model.Attachment) (string, error) {
	if !g.configured() {
		return "", ErrNotConfigured
	}

	key := cacheKey(content, chatID)
	if entry, ok := g.store.GetCache(key); ok {
		if time.Since(entry.StoredAt) < g.cfg.CacheTimeout {
			g.stats.CachedResponses.Add(1)
			return entry.Response, nil
		}
	}

	requestID := newRequestID()
	g.store.TrackConnection(requestID, &model.TrackedConn{
		ChatID:    chatID,
		StartTime: time.Now(),
	})
	defer g.store.UntrackConnection(requestID)

	req := model.BuildAIRequest(chatID, content, false, attachments)

	var lastErr error
	for attempt := 1; attempt <= g.cfg.RetryAttempts; attempt++ {
		answer, err := g.completeOnce(ctx, req)
		if err == nil {
			g.store.PutCache(key, &model.CacheEntry{
				Response: answer,
				StoredAt: time.Now(),
			})
			return answer, nil
		}
		lastErr = err
		if attempt < g.cfg.RetryAttempts {
			logger.Warnf("重试AI请求 (%d/%d) [%s]: %v", attempt, g.cfg.RetryAttempts, requestID, err)
			select {
			case <-time.After(g.cfg.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				g.stats.FailedRequests.Add(1)
				return "", ctx.Err()
			}
		}
	}

	g.stats.FailedRequests.Add(1)
	return "", lastErr
}

func (g *Gateway) completeOnce(ctx context.Context, req *model.AIRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := g.newRequest(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion response")
	}
	return completion.Choices[0].Message.Content, nil
}

// classifyAIError 把传输层错误映射为固定的用户文案
func classifyAIError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return replyAITimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return replyAITimeout
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 500 {
		return replyAIUnavailable
	}
	return replyGenericError
}
