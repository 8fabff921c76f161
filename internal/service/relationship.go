package service

import (
	"context"
	"errors"
	"time"

	"github.com/TehShadow/Rusty/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationshipService 维护用户对之间的关系状态机：
// 无 -> pending -> friends，任意状态 -> blocked，remove 删除任意状态。
type RelationshipService struct {
	db *gorm.DB
}

func NewRelationshipService(db *gorm.DB) *RelationshipService {
	return &RelationshipService{db: db}
}

// RelationshipDTO 从调用者视角描述一条关系。
type RelationshipDTO struct {
	UserID    string                    `json:"userId"`
	Username  string                    `json:"username,omitempty"`
	Status    models.RelationshipStatus `json:"status"`
	Direction string                    `json:"direction,omitempty"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

func (s *RelationshipService) pair(ctx context.Context, actor, other string) (string, string, error) {
	if err := checkID(other); err != nil {
		return "", "", err
	}
	if actor == other {
		return "", "", ErrSelfRelationship
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", other).Count(&count).Error; err != nil {
		return "", "", err
	}
	if count == 0 {
		return "", "", ErrUserNotFound
	}
	a, b := models.CanonicalPair(actor, other)
	return a, b, nil
}

// Request 发起好友请求。已存在任何关系时不做修改。
func (s *RelationshipService) Request(ctx context.Context, actor, other string) (*RelationshipDTO, error) {
	a, b, err := s.pair(ctx, actor, other)
	if err != nil {
		return nil, err
	}
	edge := models.Relationship{UserA: a, UserB: b, Status: models.StatusPending, ActorID: actor}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, other)
}

// Accept 接受对方发来的好友请求。只有非发起方可以接受，且关系必须处于 pending。
func (s *RelationshipService) Accept(ctx context.Context, actor, other string) (*RelationshipDTO, error) {
	if err := checkID(other); err != nil {
		return nil, err
	}
	if actor == other {
		return nil, ErrSelfRelationship
	}
	a, b := models.CanonicalPair(actor, other)
	res := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_a = ? AND user_b = ? AND status = ? AND actor_id <> ?", a, b, models.StatusPending, actor).
		Updates(map[string]any{"status": models.StatusFriends, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoPendingRequest
	}
	return s.Get(ctx, actor, other)
}

// Block 无条件把关系置为 blocked，覆盖之前的状态。
func (s *RelationshipService) Block(ctx context.Context, actor, other string) (*RelationshipDTO, error) {
	a, b, err := s.pair(ctx, actor, other)
	if err != nil {
		return nil, err
	}
	edge := models.Relationship{UserA: a, UserB: b, Status: models.StatusBlocked, ActorID: actor}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_a"}, {Name: "user_b"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "actor_id", "updated_at"}),
	}).Create(&edge).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, other)
}

// Remove 删除关系（任意状态），不存在时返回 ErrRelationshipNotFound。
func (s *RelationshipService) Remove(ctx context.Context, actor, other string) error {
	if err := checkID(other); err != nil {
		return err
	}
	if actor == other {
		return ErrSelfRelationship
	}
	a, b := models.CanonicalPair(actor, other)
	res := s.db.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).Delete(&models.Relationship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRelationshipNotFound
	}
	return nil
}

// Get 返回两人之间的关系，不存在时返回 ErrRelationshipNotFound。
func (s *RelationshipService) Get(ctx context.Context, actor, other string) (*RelationshipDTO, error) {
	a, b := models.CanonicalPair(actor, other)
	var edge models.Relationship
	if err := s.db.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).First(&edge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRelationshipNotFound
		}
		return nil, err
	}
	out, err := s.view(ctx, actor, []models.Relationship{edge})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListFriends 返回与 user 互为好友的用户。
func (s *RelationshipService) ListFriends(ctx context.Context, user string) ([]RelationshipDTO, error) {
	return s.list(ctx, user, models.StatusFriends)
}

// ListPending 返回与 user 相关的待处理请求，Direction 区分收到的与发出的。
func (s *RelationshipService) ListPending(ctx context.Context, user string) ([]RelationshipDTO, error) {
	return s.list(ctx, user, models.StatusPending)
}

func (s *RelationshipService) list(ctx context.Context, user string, status models.RelationshipStatus) ([]RelationshipDTO, error) {
	var edges []models.Relationship
	err := s.db.WithContext(ctx).
		Where("(user_a = ? OR user_b = ?) AND status = ?", user, user, status).
		Order("updated_at, user_a, user_b").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	return s.view(ctx, user, edges)
}

func (s *RelationshipService) view(ctx context.Context, user string, edges []models.Relationship) ([]RelationshipDTO, error) {
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Counterpart(user))
	}
	names, err := resolveUsernames(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]RelationshipDTO, 0, len(edges))
	for _, e := range edges {
		other := e.Counterpart(user)
		dto := RelationshipDTO{UserID: other, Username: names[other], Status: e.Status, UpdatedAt: e.UpdatedAt}
		if e.Status == models.StatusPending {
			dto.Direction = DirectionIncoming
			if e.ActorID == user {
				dto.Direction = DirectionOutgoing
			}
		}
		out = append(out, dto)
	}
	return out, nil
}

// CanMessage 判断两人之间是否允许私聊：只有好友可以。
func (s *RelationshipService) CanMessage(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	x, y := models.CanonicalPair(a, b)
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_a = ? AND user_b = ? AND status = ?", x, y, models.StatusFriends).
		Count(&count).Error
	return count > 0, err
}
