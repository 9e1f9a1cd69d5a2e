package service

import (
	"sync"
	"time"

	"github.com/xuyupeng07/WeChatBot/internal/model"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// flushFunc 窗口到期后处理整批消息，返回给leader的回复
type flushFunc func(pending []*model.Message) *model.Reply

// Coalescer 按用户合并短时间内的连发消息（例如配文紧跟附件）。
// 窗口从第一条消息开始计时且不会被后续消息重置；
// 只有窗口首条消息（leader）的调用方会等到真正的回复，
// 其余消息立即以空应答确认
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	buffers map[string]*coalesceBuffer
	flush   flushFunc
}

type coalesceBuffer struct {
	pending []*model.Message
	leader  chan *model.Reply
	timer   *time.Timer
}

func NewCoalescer(window time.Duration, flush flushFunc) *Coalescer {
	return &Coalescer{
		window:  window,
		buffers: make(map[string]*coalesceBuffer),
		flush:   flush,
	}
}

// Submit 提交一条消息，返回承载最终回复的通道。
// 非leader的通道立即携带nil应答关闭
func (c *Coalescer) Submit(userKey string, msg *model.Message) <-chan *model.Reply {
	c.mu.Lock()

	if buf, exists := c.buffers[userKey]; exists {
		buf.pending = append(buf.pending, msg)
		c.mu.Unlock()

		ack := make(chan *model.Reply, 1)
		ack <- nil
		close(ack)
		return ack
	}

	buf := &coalesceBuffer{
		pending: []*model.Message{msg},
		leader:  make(chan *model.Reply, 1),
	}
	c.buffers[userKey] = buf
	buf.timer = time.AfterFunc(c.window, func() {
		c.flushWindow(userKey)
	})
	c.mu.Unlock()

	return buf.leader
}

// flushWindow 窗口到期：先摘除缓冲再处理，
// 处理期间到达的新消息会开启全新的窗口
func (c *Coalescer) flushWindow(userKey string) {
	c.mu.Lock()
	buf, exists := c.buffers[userKey]
	if exists {
		delete(c.buffers, userKey)
	}
	c.mu.Unlock()

	if !exists {
		return
	}

	reply := c.safeFlush(buf.pending)
	buf.leader <- reply
	close(buf.leader)
}

func (c *Coalescer) safeFlush(pending []*model.Message) (reply *model.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("合并窗口处理异常: %v", r)
			reply = model.NewTextReply(replyGenericError)
		}
	}()
	return c.flush(pending)
}

// BufferCount 当前活跃的合并窗口数
func (c *Coalescer) BufferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}
