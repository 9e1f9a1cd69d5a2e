package model

import "encoding/json"

// 企业微信智能机器人回调消息类型
const (
	MsgTypeText   = "text"
	MsgTypeImage  = "image"
	MsgTypeMixed  = "mixed"
	MsgTypeVoice  = "voice"
	MsgTypeFile   = "file"
	MsgTypeEvent  = "event"
	MsgTypeStream = "stream"

	MsgTypeTemplateCard = "template_card"
)

const (
	EventEnterChat    = "enter_chat"
	EventTemplateCard = "template_card_event"
)

// Message 解密后的回调消息体
type Message struct {
	MsgType  string `json:"msgtype"`
	MsgID    string `json:"msgid"`
	AIBotID  string `json:"aibotid,omitempty"`
	ChatID   string `json:"chatid,omitempty"`
	ChatType string `json:"chattype,omitempty"` // single / group
	From     From   `json:"from,omitempty"`

	Text   *TextContent   `json:"text,omitempty"`
	Image  *ImageContent  `json:"image,omitempty"`
	Mixed  *MixedContent  `json:"mixed,omitempty"`
	Voice  *VoiceContent  `json:"voice,omitempty"`
	File   *FileContent   `json:"file,omitempty"`
	Event  *EventContent  `json:"event,omitempty"`
	Stream *StreamContent `json:"stream,omitempty"`
}

// From 发送者标识，回调中既可能是字符串也可能是对象
type From struct {
	UserID string `json:"userid"`
}

func (f *From) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.UserID = s
		return nil
	}
	type alias From
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	f.UserID = a.UserID
	return nil
}

func (f From) MarshalJSON() ([]byte, error) {
	type alias From
	return json.Marshal(alias(f))
}

type TextContent struct {
	Content string `json:"content"`
}

type ImageContent struct {
	URL string `json:"url"`
}

type VoiceContent struct {
	Content string `json:"content"` // 语音转写文本
}

type FileContent struct {
	Filename string `json:"filename"`
	FileExt  string `json:"fileext,omitempty"`
	FileSize int64  `json:"filesize,omitempty"`
	URL      string `json:"url"`
}

type MixedContent struct {
	MsgItem []MixedItem `json:"msg_item"`
}

type MixedItem struct {
	MsgType string        `json:"msgtype"`
	Text    *TextContent  `json:"text,omitempty"`
	Image   *ImageContent `json:"image,omitempty"`
}

type EventContent struct {
	EventType         string             `json:"eventtype"`
	TemplateCardEvent *TemplateCardEvent `json:"template_card_event,omitempty"`
}

type TemplateCardEvent struct {
	EventKey string `json:"event_key"`
	TaskID   string `json:"task_id,omitempty"`
}

// StreamContent 客户端携带会话ID的轮询消息
type StreamContent struct {
	ID string `json:"id"`
}

// UserKey 提取发送者ID，作为合并窗口的键
func (m *Message) UserKey() string {
	if m.From.UserID != "" {
		return m.From.UserID
	}
	return "unknown_user"
}

// ConversationID 根据会话类型构建稳定的对话ID，
// 同一对话的多轮请求在AI后端共享上下文
func (m *Message) ConversationID() string {
	if m.ChatType == "group" {
		groupID := m.ChatID
		if groupID == "" {
			groupID = "unknown_group"
		}
		return "wechat_group_" + groupID
	}
	return "wechat_single_" + m.UserKey()
}

// Attachment 待转交给AI后端的附件引用
type Attachment struct {
	Type string // image / file
	Name string
	URL  string
}
