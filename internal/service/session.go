package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuyupeng07/WeChatBot/internal/model"
)

func newStreamID(msgID string) string {
	return fmt.Sprintf("stream_%s_%d", msgID, time.Now().UnixMilli())
}

// looksLikeStreamID 会话ID形如 stream_<msgid>_<毫秒时间戳>
func looksLikeStreamID(id string) bool {
	return len(strings.Split(id, "_")) >= 3
}

// newSession 登记一个由流式AI调用供给的新会话
func (e *Engine) newSession(streamID, content string, src *model.Message) *model.StreamSession {
	now := time.Now()
	session := &model.StreamSession{
		ID:              streamID,
		OriginalContent: content,
		AICalling:       true,
		IsStreaming:     true,
		StartTime:       now,
		LastUpdate:      now,
		Source:          src,
	}
	e.store.PutSession(session)
	return session
}

// handlePoll 处理一次轮询。未知ID视为可恢复会话：
// 形状匹配则合成一个带占位内容的恢复会话继续轮询，
// 否则直接回复终态的"会话丢失"
func (e *Engine) handlePoll(msg *model.Message) *model.Reply {
	streamID := msg.Stream.ID

	if _, err := e.store.GetSession(streamID); err != nil {
		if !looksLikeStreamID(streamID) {
			return model.NewStreamReply(streamID, replySessionLost, true, nil)
		}
		now := time.Now()
		e.store.PutSession(&model.StreamSession{
			ID:              streamID,
			OriginalContent: replyRecoveredText,
			Recovered:       true,
			StartTime:       now,
			LastUpdate:      now,
			Source:          msg,
		})
	}

	var content string
	var finished bool
	found := e.store.UpdateSession(streamID, func(s *model.StreamSession) bool {
		s.Step++
		content, finished = generateStreamContent(s, e.cfg.Engine.PollTimeout, time.Now())
		return finished
	})
	if !found {
		// 刚创建的会话被并发清扫走，按丢失处理
		return model.NewStreamReply(streamID, replySessionLost, true, nil)
	}

	return model.NewStreamReply(streamID, content, finished, nil)
}

// generateStreamContent 轮询内容状态机，按固定优先级求值：
// 绝对超时 → 出错 → 流式进度 → 非流式完整回答 → 继续等待
func generateStreamContent(s *model.StreamSession, pollTimeout time.Duration, now time.Time) (string, bool) {
	if now.Sub(s.StartTime) > pollTimeout {
		return replyPollTimeout, true
	}
	if s.AIError != "" {
		return s.AIError, true
	}
	if s.IsStreaming || s.StreamComplete {
		return s.StreamContent, s.StreamComplete
	}
	if s.AIResponse != "" {
		return s.AIResponse, true
	}
	return "", false
}
