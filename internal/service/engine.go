package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/xuyupeng07/WeChatBot/internal/config"
	"github.com/xuyupeng07/WeChatBot/internal/model"
	"github.com/xuyupeng07/WeChatBot/internal/storage"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// Engine 流式桥接与合并引擎。持有四张共享表的唯一所有者，
// 协作方只通过这里的窄接口读写
type Engine struct {
	cfg       *config.Config
	store     *storage.MemoryStore
	gateway   *Gateway
	coalescer *Coalescer
	preparer  *AttachmentPreparer
	stats     *Stats
	startedAt time.Time
}

func NewEngine(cfg *config.Config, store *storage.MemoryStore, gateway *Gateway, preparer *AttachmentPreparer, stats *Stats) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		preparer:  preparer,
		stats:     stats,
		startedAt: time.Now(),
	}
	e.coalescer = NewCoalescer(cfg.Engine.CoalesceWindow, e.flushWindow)
	return e
}

// HandleMessage 处理一条解密后的回调消息，返回待加密的回复。
// 返回nil表示空应答（{}）。单条消息的任何异常都被兜住，
// 不允许拖垮进程或影响其他会话
func (e *Engine) HandleMessage(msg *model.Message) (reply *model.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("消息处理异常: %v", r)
			e.stats.FailedRequests.Add(1)
			reply = model.NewTextReply(replyHandlerPanic)
		}
	}()

	e.stats.TotalRequests.Add(1)

	switch msg.MsgType {
	case model.MsgTypeStream:
		return e.handlePoll(msg)

	case model.MsgTypeEvent:
		return e.handleEvent(msg)

	case model.MsgTypeVoice:
		// 语音依赖转写文本，之后完全复用文本路径
		if msg.Voice == nil || msg.Voice.Content == "" {
			return model.NewTextReply(replyVoiceNoText)
		}
		text := *msg
		text.MsgType = model.MsgTypeText
		text.Text = &model.TextContent{Content: msg.Voice.Content}
		return <-e.coalescer.Submit(text.UserKey(), &text)

	case model.MsgTypeText, model.MsgTypeImage, model.MsgTypeMixed, model.MsgTypeFile:
		return <-e.coalescer.Submit(msg.UserKey(), msg)

	default:
		return model.NewTextReply(replyUnknownKind)
	}
}

// flushWindow 合并窗口到期后的处理入口
func (e *Engine) flushWindow(pending []*model.Message) *model.Reply {
	if len(pending) == 1 {
		return e.processSingle(pending[0])
	}
	return e.processMerged(pending)
}

// processSingle 单条消息走各自类型的原始路径
func (e *Engine) processSingle(msg *model.Message) *model.Reply {
	switch msg.MsgType {
	case model.MsgTypeText:
		streamID := newStreamID(msg.MsgID)
		e.newSession(streamID, msg.Text.Content, msg)
		go e.runStreamCall(streamID, msg.Text.Content, nil)
		return model.NewStreamReply(streamID, "", false, nil)

	case model.MsgTypeImage:
		streamID := newStreamID(msg.MsgID)
		e.newSession(streamID, replyImagePrompt, msg)
		go e.runStreamCall(streamID, replyImagePrompt, []RawAttachment{
			{Type: "image", URL: msg.Image.URL},
		})
		return model.NewStreamReply(streamID, "", false, nil)

	case model.MsgTypeFile:
		streamID := newStreamID(msg.MsgID)
		e.newSession(streamID, "", msg)
		go e.runStreamCall(streamID, "", []RawAttachment{
			{Type: "file", Name: msg.File.Filename, URL: msg.File.URL},
		})
		return model.NewStreamReply(streamID, "", false, nil)

	case model.MsgTypeMixed:
		return e.processMixed(msg)
	}
	return model.NewTextReply(replyUnknownKind)
}

func (e *Engine) processMixed(msg *model.Message) *model.Reply {
	var texts []string
	var raws []RawAttachment
	for _, item := range msg.Mixed.MsgItem {
		switch item.MsgType {
		case model.MsgTypeText:
			if item.Text != nil {
				texts = append(texts, item.Text.Content)
			}
		case model.MsgTypeImage:
			if item.Image != nil {
				raws = append(raws, RawAttachment{Type: "image", URL: item.Image.URL})
			}
		}
	}
	content := strings.TrimSpace(strings.Join(texts, " "))

	if len(raws) > 0 {
		streamID := newStreamID(msg.MsgID)
		e.newSession(streamID, content, msg)
		go e.runStreamCall(streamID, content, raws)
		return model.NewStreamReply(streamID, "", false, nil)
	}

	if content != "" {
		answer, err := e.gateway.Complete(context.Background(), msg.ConversationID(), content, nil)
		if err == nil && answer != "" {
			return model.NewStreamReply(newStreamID(msg.MsgID), answer, true, nil)
		}
	}
	return model.NewTextReply(replyMixedEmpty)
}

// processMerged 把一个窗口内的多条消息合并为一次AI调用：
// 文本按到达顺序以空格拼接，附件按到达顺序串联并保留类型。
// 附件在这里同步准备，单个失败降级为文本标记
func (e *Engine) processMerged(pending []*model.Message) *model.Reply {
	leader := pending[0]

	var texts []string
	var raws []RawAttachment
	for _, m := range pending {
		switch m.MsgType {
		case model.MsgTypeText:
			texts = append(texts, m.Text.Content)
		case model.MsgTypeImage:
			raws = append(raws, RawAttachment{Type: "image", URL: m.Image.URL})
		case model.MsgTypeFile:
			raws = append(raws, RawAttachment{Type: "file", Name: m.File.Filename, URL: m.File.URL})
		case model.MsgTypeMixed:
			for _, item := range m.Mixed.MsgItem {
				switch item.MsgType {
				case model.MsgTypeText:
					if item.Text != nil {
						texts = append(texts, item.Text.Content)
					}
				case model.MsgTypeImage:
					if item.Image != nil {
						raws = append(raws, RawAttachment{Type: "image", URL: item.Image.URL})
					}
				}
			}
		}
	}
	content := strings.TrimSpace(strings.Join(texts, " "))

	streamID := newStreamID(leader.MsgID)
	e.newSession(streamID, content, leader)

	prepared, degraded := e.preparer.PrepareAll(context.Background(), raws)
	if len(degraded) > 0 {
		content = strings.TrimSpace(content + " " + strings.Join(degraded, " "))
	}

	go e.streamToSession(streamID, content, prepared)
	return model.NewStreamReply(streamID, "", false, nil)
}

// runStreamCall 异步路径：准备附件后发起流式调用
func (e *Engine) runStreamCall(streamID, content string, raws []RawAttachment) {
	prepared, degraded := e.preparer.PrepareAll(context.Background(), raws)
	if len(degraded) > 0 {
		content = strings.TrimSpace(content + " " + strings.Join(degraded, " "))
	}
	e.streamToSession(streamID, content, prepared)
}

// streamToSession 发起流式AI调用，把增量写入会话。
// 每次写入前都重新确认会话仍然存在——会话可能已被轮询消费
// 或被清扫器回收，此时增量被静默丢弃
func (e *Engine) streamToSession(streamID, content string, attachments []model.Attachment) {
	session, err := e.store.GetSession(streamID)
	if err != nil {
		return
	}
	chatID := session.Source.ConversationID()

	cb := func(chunk string, done bool) {
		e.store.UpdateSession(streamID, func(s *model.StreamSession) bool {
			if done {
				s.AICalling = false
				s.IsStreaming = false
				s.StreamComplete = true
				return false
			}
			if chunk == "" || s.AIError != "" {
				return false
			}
			// 背压安全阀：累计输出超限即判错，后续增量一律丢弃
			if len(s.StreamContent)+len(chunk) > e.cfg.AI.MaxBufferSize {
				s.AIError = replyOversized
				s.AICalling = false
				s.IsStreaming = false
				s.StreamComplete = true
				return false
			}
			s.StreamContent += chunk
			s.LastUpdate = time.Now()
			return false
		})
	}

	req := model.BuildAIRequest(chatID, content, true, attachments)
	full, err := e.gateway.Stream(context.Background(), req, cb)
	if err != nil {
		text := classifyAIError(err)
		if errors.Is(err, ErrNotConfigured) {
			text = replyNoAnswer
		}
		e.store.UpdateSession(streamID, func(s *model.StreamSession) bool {
			if s.AIError == "" {
				s.AIError = text
			}
			s.AICalling = false
			s.IsStreaming = false
			s.StreamComplete = true
			return false
		})
		return
	}

	e.store.UpdateSession(streamID, func(s *model.StreamSession) bool {
		s.AIResponse = full
		s.AICalling = false
		s.IsStreaming = false
		s.StreamComplete = true
		s.LastUpdate = time.Now()
		return false
	})
	logger.Debugf("AI回复完成 [%s], 长度 %d", streamID, len(full))
}

func (e *Engine) handleEvent(msg *model.Message) *model.Reply {
	switch msg.Event.EventType {
	case model.EventEnterChat:
		return model.NewTemplateCardReply(&model.TemplateCard{
			CardType: "text_notice",
			MainTitle: &model.CardTitle{
				Title: "欢迎使用智能助手",
				Desc:  "我是您的AI助手，可以帮助您解答问题和处理任务",
			},
			SubTitleText: "请直接向我提问，我会尽力为您提供帮助！",
			CardAction: &model.CardAction{
				Type:     3,
				Title:    "开始对话",
				Question: "你好，请问有什么可以帮助您的吗？",
			},
			TaskID: newStreamID("welcome"),
		})

	case model.EventTemplateCard:
		if msg.Event.TemplateCardEvent != nil && msg.Event.TemplateCardEvent.EventKey == "submit_key" {
			return model.NewTextReply("感谢您的提交！")
		}
		return model.NewTextReply("收到您的操作，正在处理...")
	}
	return nil
}

// Health 健康检查快照
func (e *Engine) Health() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := e.stats.Snapshot()
	stats["activeStreams"] = int64(e.store.StreamCount())

	return map[string]interface{}{
		"status": "healthy",
		"memory": map[string]string{
			"alloc": byteCountMB(mem.Alloc),
			"sys":   byteCountMB(mem.Sys),
		},
		"stats": stats,
		"connections": map[string]int{
			"pool":        e.store.ConnectionCount(),
			"streams":     e.store.StreamCount(),
			"cache":       e.store.CacheCount(),
			"streamStore": e.store.SessionCount(),
			"coalescing":  e.coalescer.BufferCount(),
		},
		"uptime": time.Since(e.startedAt).Round(time.Second).String(),
	}
}

func (e *Engine) StatsSnapshot() map[string]int64 {
	return e.stats.Snapshot()
}

func (e *Engine) ResetStats() {
	e.stats.Reset()
	logger.Info("统计信息已重置")
}

// Shutdown 进程退出前清空全部共享表
func (e *Engine) Shutdown() {
	logger.Info("开始清理引擎资源")
	e.store.Clear()
	e.stats.Reset()
	logger.Info("引擎资源清理完成")
}

func byteCountMB(b uint64) string {
	return fmt.Sprintf("%dMB", b/1024/1024)
}
