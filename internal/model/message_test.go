package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUnmarshalBothShapes(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"msgtype":"text","from":"zhangsan"}`), &m))
	assert.Equal(t, "zhangsan", m.From.UserID)

	var m2 Message
	require.NoError(t, json.Unmarshal([]byte(`{"msgtype":"text","from":{"userid":"lisi"}}`), &m2))
	assert.Equal(t, "lisi", m2.From.UserID)
}

func TestUserKeyFallback(t *testing.T) {
	m := &Message{}
	assert.Equal(t, "unknown_user", m.UserKey())

	m.From.UserID = "zhangsan"
	assert.Equal(t, "zhangsan", m.UserKey())
}

func TestConversationID(t *testing.T) {
	single := &Message{ChatType: "single", From: From{UserID: "zhangsan"}}
	assert.Equal(t, "wechat_single_zhangsan", single.ConversationID())

	group := &Message{ChatType: "group", ChatID: "room42"}
	assert.Equal(t, "wechat_group_room42", group.ConversationID())

	// 群聊缺少chatid时用占位符，避免串会话
	orphan := &Message{ChatType: "group"}
	assert.Equal(t, "wechat_group_unknown_group", orphan.ConversationID())
}

func TestStreamReplyImagesOnlyOnFinish(t *testing.T) {
	images := []ReplyImage{{Base64: "abc", MD5: "def"}}

	partial := NewStreamReply("stream_1_2", "进行中", false, images)
	assert.Empty(t, partial.Stream.MsgItem)

	final := NewStreamReply("stream_1_2", "完成", true, images)
	require.Len(t, final.Stream.MsgItem, 1)
	assert.Equal(t, MsgTypeImage, final.Stream.MsgItem[0].MsgType)
	assert.Equal(t, "abc", final.Stream.MsgItem[0].Image.Base64)
}

func TestBuildAIRequestOrdering(t *testing.T) {
	req := BuildAIRequest("chat1", "看看这些", true, []Attachment{
		{Type: "image", URL: "http://host/public/images/a.jpg"},
		{Type: "file", Name: "报告.pdf", URL: "http://host/public/files/b.pdf"},
	})

	assert.Equal(t, "chat1", req.ChatID)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 1)

	parts := req.Messages[0].Content
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "file_url", parts[2].Type)
	assert.Equal(t, "报告.pdf", parts[2].Name)
}

func TestBuildAIRequestEmptyContent(t *testing.T) {
	req := BuildAIRequest("chat1", "", false, []Attachment{
		{Type: "file", Name: "f.txt", URL: "http://host/public/files/f.txt"},
	})
	// 无文本时不产生空的text段
	require.Len(t, req.Messages[0].Content, 1)
	assert.Equal(t, "file_url", req.Messages[0].Content[0].Type)
}

func TestAIRequestWireFormat(t *testing.T) {
	req := BuildAIRequest("chat1", "hi", true, nil)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	// 后端要求小驼峰的chatId
	assert.Contains(t, string(b), `"chatId":"chat1"`)
}
