package service

import (
	"context"
	"time"

	"github.com/TehShadow/Rusty/internal/models"
	"gorm.io/gorm"
)

// MessageLog 是房间消息与私聊消息的只追加存储。
type MessageLog struct {
	db *gorm.DB
}

func NewMessageLog(db *gorm.DB) *MessageLog {
	return &MessageLog{db: db}
}

// Page 控制历史消息的分页：Limit 为 0 表示不限制；BeforeID 为 0 表示从最新开始。
type Page struct {
	Limit    int
	BeforeID uint
}

// MessageDTO 是对外输出的消息数据，字段命名与 WebSocket 出站帧一致。
type MessageDTO struct {
	ID         uint       `json:"id"`
	RoomID     string     `json:"roomId,omitempty"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId,omitempty"`
	Username   string     `json:"username,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
}

// AppendRoom 写入一条房间消息，返回带 ID 与时间戳的完整记录。
func (l *MessageLog) AppendRoom(ctx context.Context, roomID, authorID, content string, at time.Time) (*models.Message, error) {
	msg := models.Message{RoomID: roomID, AuthorID: authorID, Content: content, CreatedAt: at.UTC()}
	if err := l.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByRoom 按创建时间、ID 升序返回房间消息。
func (l *MessageLog) ListByRoom(ctx context.Context, roomID string, page Page) ([]MessageDTO, error) {
	var msgs []models.Message
	q := l.db.WithContext(ctx).Where("room_id = ?", roomID)
	if err := paginate(q, page).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if page.Limit > 0 {
		reverse(msgs)
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.AuthorID)
	}
	names, err := resolveUsernames(ctx, l.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:        m.ID,
			RoomID:    m.RoomID,
			SenderID:  m.AuthorID,
			Username:  names[m.AuthorID],
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			EditedAt:  m.EditedAt,
		})
	}
	return out, nil
}

// AppendDirect 写入一条私聊消息，会话键由两个用户的规范化顺序决定。
func (l *MessageLog) AppendDirect(ctx context.Context, senderID, receiverID, content string, at time.Time) (*models.DirectMessage, error) {
	msg := models.DirectMessage{
		ConversationKey: models.ConversationKey(senderID, receiverID),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		CreatedAt:       at.UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListDirect 返回两个用户之间的私聊消息，排序规则与房间消息相同。
func (l *MessageLog) ListDirect(ctx context.Context, a, b string, page Page) ([]MessageDTO, error) {
	var msgs []models.DirectMessage
	q := l.db.WithContext(ctx).Where("conversation_key = ?", models.ConversationKey(a, b))
	if err := paginate(q, page).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if page.Limit > 0 {
		reverse(msgs)
	}

	names, err := resolveUsernames(ctx, l.db, []string{a, b})
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Username:   names[m.SenderID],
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}

// paginate 有 Limit 时倒序取最新的一页，调用方再反转为升序。
func paginate(q *gorm.DB, page Page) *gorm.DB {
	if page.BeforeID > 0 {
		q = q.Where("id < ?", page.BeforeID)
	}
	if page.Limit > 0 {
		return q.Order("created_at desc, id desc").Limit(page.Limit)
	}
	return q.Order("created_at, id")
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
