package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Session 是 bearer token 的吊销单元：删除或过期后，派生出的所有 token 一并失效。
type Session struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Expired 判断会话在 now 时刻是否已过期。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type Room struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128"`
	OwnerID   string `gorm:"index;size:36;not null"`
	CreatedAt time.Time
}

func (r *Room) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type RoomMember struct {
	RoomID   string `gorm:"primaryKey;size:36"`
	UserID   string `gorm:"primaryKey;size:36;index"`
	JoinedAt time.Time
}

// Message 的 ID 单调自增，用于同一时间戳下的插入顺序。
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"index:idx_msg_room_created,priority:1;size:36;not null"`
	AuthorID  string    `gorm:"index;size:36;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2;not null"`
	EditedAt  *time.Time
}

type DirectMessage struct {
	ID              uint      `gorm:"primaryKey"`
	ConversationKey string    `gorm:"index:idx_dm_conv_created,priority:1;size:80;not null"`
	SenderID        string    `gorm:"index;size:36;not null"`
	ReceiverID      string    `gorm:"index;size:36;not null"`
	Content         string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"index:idx_dm_conv_created,priority:2;not null"`
}

type RelationshipStatus string

const (
	StatusPending RelationshipStatus = "pending"
	StatusFriends RelationshipStatus = "friends"
	StatusBlocked RelationshipStatus = "blocked"
)

// Relationship 以规范化的有序对 (UserA < UserB) 存储，一对用户至多一行。
// ActorID 记录发起请求或拉黑的一方。
type Relationship struct {
	UserA     string             `gorm:"primaryKey;size:36"`
	UserB     string             `gorm:"primaryKey;size:36;index"`
	Status    RelationshipStatus `gorm:"size:16;not null;index"`
	ActorID   string             `gorm:"size:36;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalPair 返回按字节序排列的用户对。
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// ConversationKey 是两个用户私聊会话的共享键，与参数顺序无关。
func ConversationKey(a, b string) string {
	x, y := CanonicalPair(a, b)
	return x + ":" + y
}

// Counterpart 返回关系中除 userID 外的另一方。
func (r Relationship) Counterpart(userID string) string {
	if r.UserA == userID {
		return r.UserB
	}
	return r.UserA
}

// All 返回需要自动迁移的全部模型。
func All() []any {
	return []any{&User{}, &Session{}, &Room{}, &RoomMember{}, &Message{}, &DirectMessage{}, &Relationship{}}
}
