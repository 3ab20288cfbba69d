package orchestrator

import "time"

// MessageType 是推送给观察者的事件类别。
type MessageType string

const (
	MessageThought        MessageType = "thought"
	MessageAction         MessageType = "action"
	MessagePayment        MessageType = "payment"
	MessageData           MessageType = "data"
	MessageRecommendation MessageType = "recommendation"
	MessageError          MessageType = "error"
)

// Message 是一条进度事件,按时间序推送给当前连接的全部观察者。
type Message struct {
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func newMessage(kind MessageType, content string, metadata map[string]any) Message {
	return Message{
		Type:      kind,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now().UnixMilli(),
	}
}
