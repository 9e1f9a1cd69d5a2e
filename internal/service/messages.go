package service

// 用户可见的固定文案
const (
	replyUnknownKind   = "抱歉，我暂时无法处理这种类型的消息。"
	replyHandlerPanic  = "抱歉，处理消息时出现错误，请稍后再试。"
	replyPollTimeout   = "抱歉，处理时间过长，请重新发送消息"
	replySessionLost   = "会话状态已丢失，请重新发送消息"
	replyRecoveredText = "继续之前的对话"
	replyNoAnswer      = "抱歉，我现在无法回答您的问题，请稍后再试。"
	replyAITimeout     = "抱歉，AI响应超时，请尝试简化您的问题后重新发送。"
	replyAIUnavailable = "抱歉，AI服务暂时不可用，请稍后再试。"
	replyGenericError  = "抱歉，处理您的问题时出现错误，请稍后再试。"
	replyOversized     = "流式响应过大，已终止"
	replyMixedEmpty    = "我收到了您的图文消息，但似乎没有有效内容。"
	replyVoiceNoText   = "无法识别语音内容，请发送文字消息。"
	replyImagePrompt   = "请分析这张图片"
)
