package model

import "time"

// StreamSession 一次进行中或已完成的AI回答。
// 会话只会被移除一次：要么被finish=true的轮询消费，要么被清扫器回收
type StreamSession struct {
	ID              string
	Step            int
	OriginalContent string
	StreamContent   string // 已累计的增量输出
	AIResponse      string // 非流式路径或流结束后的完整回答
	AIError         string // 与正常完成互斥
	AICalling       bool
	IsStreaming     bool // 是否有活跃的后端连接正在写入
	StreamComplete  bool
	Recovered       bool
	StartTime       time.Time
	LastUpdate      time.Time
	Source          *Message // 构建后端请求、恢复会话时使用
}

// CacheEntry 非流式回答缓存，键为(内容, 对话ID)
type CacheEntry struct {
	Response string
	StoredAt time.Time
}

// TrackedConn 在途后端调用的记账条目，只用于资源统计与清扫，
// 不会强制取消底层网络调用
type TrackedConn struct {
	ChatID    string
	StartTime time.Time
}
