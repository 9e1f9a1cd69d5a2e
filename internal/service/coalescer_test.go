package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuyupeng07/WeChatBot/internal/model"
)

func textMessage(userID, msgID, content string) *model.Message {
	return &model.Message{
		MsgType: model.MsgTypeText,
		MsgID:   msgID,
		From:    model.From{UserID: userID},
		Text:    &model.TextContent{Content: content},
	}
}

func TestCoalescerMergesWindow(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]*model.Message

	c := NewCoalescer(50*time.Millisecond, func(pending []*model.Message) *model.Reply {
		mu.Lock()
		flushed = append(flushed, pending)
		mu.Unlock()
		return model.NewTextReply("done")
	})

	leaderCh := c.Submit("user1", textMessage("user1", "m1", "A"))
	ack2 := <-c.Submit("user1", textMessage("user1", "m2", "B"))
	ack3 := <-c.Submit("user1", textMessage("user1", "m3", "C"))

	// 非leader立即收到空应答
	assert.Nil(t, ack2)
	assert.Nil(t, ack3)

	reply := <-leaderCh
	require.NotNil(t, reply)
	assert.Equal(t, "done", reply.Text.Content)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	require.Len(t, flushed[0], 3)
	assert.Equal(t, "A", flushed[0][0].Text.Content)
	assert.Equal(t, "B", flushed[0][1].Text.Content)
	assert.Equal(t, "C", flushed[0][2].Text.Content)
}

func TestCoalescerIsolatesUsers(t *testing.T) {
	var mu sync.Mutex
	count := map[string]int{}

	c := NewCoalescer(30*time.Millisecond, func(pending []*model.Message) *model.Reply {
		mu.Lock()
		count[pending[0].UserKey()] = len(pending)
		mu.Unlock()
		return nil
	})

	ch1 := c.Submit("alice", textMessage("alice", "m1", "hi"))
	ch2 := c.Submit("bob", textMessage("bob", "m2", "yo"))
	c.Submit("alice", textMessage("alice", "m3", "again"))

	assert.Equal(t, 2, c.BufferCount())

	<-ch1
	<-ch2

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count["alice"])
	assert.Equal(t, 1, count["bob"])
}

func TestCoalescerWindowDoesNotReset(t *testing.T) {
	start := time.Now()
	c := NewCoalescer(60*time.Millisecond, func(pending []*model.Message) *model.Reply {
		return nil
	})

	leaderCh := c.Submit("user1", textMessage("user1", "m1", "first"))
	// 接近窗口末尾的追加不应延长窗口
	time.Sleep(40 * time.Millisecond)
	c.Submit("user1", textMessage("user1", "m2", "late"))

	<-leaderCh
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 120*time.Millisecond, "窗口被后续消息重置了")
}

func TestCoalescerNewWindowAfterFlush(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, func(pending []*model.Message) *model.Reply {
		return model.NewTextReply("reply")
	})

	first := <-c.Submit("user1", textMessage("user1", "m1", "one"))
	require.NotNil(t, first)

	// 上个窗口已结束，新消息成为新窗口的leader
	second := <-c.Submit("user1", textMessage("user1", "m2", "two"))
	require.NotNil(t, second)
}

func TestCoalescerFlushPanicRecovered(t *testing.T) {
	c := NewCoalescer(10*time.Millisecond, func(pending []*model.Message) *model.Reply {
		panic("boom")
	})

	reply := <-c.Submit("user1", textMessage("user1", "m1", "hi"))
	require.NotNil(t, reply)
	assert.Equal(t, replyGenericError, reply.Text.Content)
	assert.Equal(t, 0, c.BufferCount())
}
