package ws

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// InboundMessage 是客户端发送的文本帧。
type InboundMessage struct {
	Content string `json:"content"`
}

// OutboundMessage 是广播给订阅者的文本帧，内容来自已持久化的记录。
type OutboundMessage struct {
	ID         uint      `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	Username   string    `json:"username,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m OutboundMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeInbound 解析入站帧；格式错误或内容为空时 ok 为 false。
func DecodeInbound(data []byte) (InboundMessage, bool) {
	var in InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return InboundMessage{}, false
	}
	if strings.TrimSpace(in.Content) == "" {
		return InboundMessage{}, false
	}
	return in, true
}
