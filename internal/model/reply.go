package model

// Reply 加密前的回复消息体
type Reply struct {
	MsgType      string        `json:"msgtype"`
	Text         *TextContent  `json:"text,omitempty"`
	Stream       *StreamReply  `json:"stream,omitempty"`
	TemplateCard *TemplateCard `json:"template_card,omitempty"`
}

// StreamReply 流式回复，客户端依据finish决定是否继续轮询
type StreamReply struct {
	ID      string      `json:"id"`
	Finish  bool        `json:"finish"`
	Content string      `json:"content"`
	MsgItem []ReplyItem `json:"msg_item,omitempty"`
}

type ReplyItem struct {
	MsgType string      `json:"msgtype"`
	Image   *ReplyImage `json:"image,omitempty"`
}

type ReplyImage struct {
	Base64 string `json:"base64"`
	MD5    string `json:"md5"`
}

type TemplateCard struct {
	CardType     string      `json:"card_type"`
	MainTitle    *CardTitle  `json:"main_title,omitempty"`
	SubTitleText string      `json:"sub_title_text,omitempty"`
	CardAction   *CardAction `json:"card_action,omitempty"`
	TaskID       string      `json:"task_id,omitempty"`
}

type CardTitle struct {
	Title string `json:"title"`
	Desc  string `json:"desc,omitempty"`
}

type CardAction struct {
	Type     int    `json:"type"`
	Title    string `json:"title,omitempty"`
	Question string `json:"question,omitempty"`
}

func NewTextReply(content string) *Reply {
	return &Reply{
		MsgType: MsgTypeText,
		Text:    &TextContent{Content: content},
	}
}

func NewStreamReply(streamID, content string, finish bool, images []ReplyImage) *Reply {
	reply := &Reply{
		MsgType: MsgTypeStream,
		Stream: &StreamReply{
			ID:      streamID,
			Finish:  finish,
			Content: content,
		},
	}
	// 图片只随最后一帧返回
	if finish && len(images) > 0 {
		for _, img := range images {
			image := img
			reply.Stream.MsgItem = append(reply.Stream.MsgItem, ReplyItem{
				MsgType: MsgTypeImage,
				Image:   &image,
			})
		}
	}
	return reply
}

func NewTemplateCardReply(card *TemplateCard) *Reply {
	return &Reply{
		MsgType:      MsgTypeTemplateCard,
		TemplateCard: card,
	}
}
