package model

// FastGPT对话接口的请求体。响应侧与OpenAI格式兼容，
// 但请求需要额外的chatId字段与file_url内容段，因此自行定义
type AIRequest struct {
	ChatID   string      `json:"chatId"`
	Stream   bool        `json:"stream"`
	Messages []AIMessage `json:"messages"`
}

type AIMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"` // text / image_url / file_url
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	Name     string    `json:"name,omitempty"`
	URL      string    `json:"url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// BuildAIRequest 组装一次对话请求，附件按到达顺序排在文本之后
func BuildAIRequest(chatID, content string, stream bool, attachments []Attachment) *AIRequest {
	parts := make([]ContentPart, 0, 1+len(attachments))

	if content != "" {
		parts = append(parts, ContentPart{Type: "text", Text: content})
	}

	for _, att := range attachments {
		switch att.Type {
		case "image":
			parts = append(parts, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: att.URL},
			})
		case "file":
			parts = append(parts, ContentPart{
				Type: "file_url",
				Name: att.Name,
				URL:  att.URL,
			})
		}
	}

	return &AIRequest{
		ChatID: chatID,
		Stream: stream,
		Messages: []AIMessage{
			{Role: "user", Content: parts},
		},
	}
}
