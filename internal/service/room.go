package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/TehShadow/Rusty/internal/models"
	"github.com/TehShadow/Rusty/internal/ws"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomKey 是房间在 Hub 中的 key。
func RoomKey(roomID string) string { return "room:" + roomID }

// RoomService 封装房间与成员关系相关的业务逻辑。
type RoomService struct {
	db  *gorm.DB
	hub *ws.Hub
}

func NewRoomService(db *gorm.DB, hub *ws.Hub) *RoomService {
	return &RoomService{db: db, hub: hub}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	Online    int       `json:"online"`
}

func (s *RoomService) toDTO(r models.Room) RoomDTO {
	return RoomDTO{ID: r.ID, Name: r.Name, OwnerID: r.OwnerID, CreatedAt: r.CreatedAt, Online: s.hub.Online(RoomKey(r.ID))}
}

// Create 创建房间，并在同一事务中把创建者加入成员。
func (s *RoomService) Create(ctx context.Context, ownerID, name string) (*RoomDTO, error) {
	room := models.Room{Name: strings.TrimSpace(name), OwnerID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&models.RoomMember{RoomID: room.ID, UserID: ownerID, JoinedAt: room.CreatedAt}).Error
	})
	if err != nil {
		return nil, err
	}
	dto := s.toDTO(room)
	return &dto, nil
}

// Get 查询房间，调用者必须是成员。
func (s *RoomService) Get(ctx context.Context, userID, roomID string) (*RoomDTO, error) {
	room, err := s.find(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.RequireMember(ctx, userID, roomID); err != nil {
		return nil, err
	}
	dto := s.toDTO(*room)
	return &dto, nil
}

// Authorize 确认房间存在且用户是成员，否则返回 ErrRoomNotFound 或 ErrNotMember。
func (s *RoomService) Authorize(ctx context.Context, userID, roomID string) error {
	if _, err := s.find(ctx, roomID); err != nil {
		return err
	}
	return s.RequireMember(ctx, userID, roomID)
}

func (s *RoomService) find(ctx context.Context, roomID string) (*models.Room, error) {
	if err := checkID(roomID); err != nil {
		return nil, err
	}
	var room models.Room
	if err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Join 把用户加入房间，重复加入不报错。
func (s *RoomService) Join(ctx context.Context, userID, roomID string) (*RoomDTO, error) {
	room, err := s.find(ctx, roomID)
	if err != nil {
		return nil, err
	}
	member := models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
		return nil, err
	}
	dto := s.toDTO(*room)
	return &dto, nil
}

// ListForUser 返回用户加入的房间，附带各房间的在线人数。
func (s *RoomService) ListForUser(ctx context.Context, userID string) ([]RoomDTO, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.created_at, rooms.id").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, s.toDTO(r))
	}
	return out, nil
}

// MemberDTO 是房间成员。
type MemberDTO struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Members 列出房间成员，调用者必须是成员。
func (s *RoomService) Members(ctx context.Context, userID, roomID string) ([]MemberDTO, error) {
	if err := s.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	var rows []models.RoomMember
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at, user_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.UserID)
	}
	names, err := resolveUsernames(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]MemberDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, MemberDTO{UserID: m.UserID, Username: names[m.UserID], JoinedAt: m.JoinedAt})
	}
	return out, nil
}

// IsMember 判断用户当前是否是房间成员。
func (s *RoomService) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// RequireMember 在用户不是成员时返回 ErrNotMember。
func (s *RoomService) RequireMember(ctx context.Context, userID, roomID string) error {
	ok, err := s.IsMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// checkID 拒绝格式错误的 UUID，避免把任意字符串带进查询。
func checkID(id string) error {
	if uuid.Validate(id) != nil {
		return ErrInvalidID
	}
	return nil
}

// resolveUsernames 批量获取用户名。
func resolveUsernames(ctx context.Context, db *gorm.DB, ids []string) (map[string]string, error) {
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	names := make(map[string]string, len(uniq))
	if len(uniq) == 0 {
		return names, nil
	}
	var users []models.User
	if err := db.WithContext(ctx).Select("id", "username").Where("id IN ?", uniq).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}
