package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/metrics"
	"github.com/TehShadow/Rusty/internal/models"
	"github.com/TehShadow/Rusty/internal/ws"
)

// MaxContentRunes 是单条消息允许的最大字符数。
const MaxContentRunes = 4000

// DirectKey 是两个用户私聊会话在 Hub 中的 key，与参数顺序无关。
func DirectKey(a, b string) string { return "dm:" + models.ConversationKey(a, b) }

const sequencerStripes = 64

// sequencer 把同一个 Hub key 上的写入串行化：持锁期间完成落库与广播，
// 因此订阅者看到的顺序与日志顺序一致。时间戳在同一分片内不会倒退。
type sequencer struct {
	stripes [sequencerStripes]struct {
		mu   sync.Mutex
		last time.Time
	}
}

// lock 锁住 key 所在分片并返回一个不早于该分片上次时间戳的时间。
func (q *sequencer) lock(key string, now time.Time) (time.Time, func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	st := &q.stripes[h.Sum32()%sequencerStripes]
	st.mu.Lock()
	at := now.UTC().Truncate(time.Microsecond)
	if at.Before(st.last) {
		at = st.last
	}
	st.last = at
	return at, st.mu.Unlock
}

// ChatService 负责发送消息：先持久化，再向 Hub 广播。
type ChatService struct {
	log     *MessageLog
	rooms   *RoomService
	rels    *RelationshipService
	hub     *ws.Hub
	seq     sequencer
	pageMax int
	now     func() time.Time
}

func NewChatService(log *MessageLog, rooms *RoomService, rels *RelationshipService, hub *ws.Hub, pageMax int) *ChatService {
	return &ChatService{log: log, rooms: rooms, rels: rels, hub: hub, pageMax: pageMax, now: time.Now}
}

func checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return ErrContentTooLong
	}
	return nil
}

func (s *ChatService) clampPage(p Page) Page {
	if s.pageMax > 0 && p.Limit > s.pageMax {
		p.Limit = s.pageMax
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	return p
}

// PostRoom 向房间发送消息。origin 为发送者自己的订阅（可为 nil），用于控制回显。
func (s *ChatService) PostRoom(ctx context.Context, user auth.CurrentUser, roomID, content string, origin *ws.Subscription) (*MessageDTO, error) {
	if err := checkContent(content); err != nil {
		return nil, err
	}
	if err := s.rooms.Authorize(ctx, user.ID, roomID); err != nil {
		return nil, err
	}

	key := RoomKey(roomID)
	at, unlock := s.seq.lock(key, s.now())
	defer unlock()
	msg, err := s.log.AppendRoom(ctx, roomID, user.ID, content, at)
	if err != nil {
		return nil, err
	}
	out := ws.OutboundMessage{ID: msg.ID, SenderID: user.ID, Username: user.Username, Content: msg.Content, CreatedAt: msg.CreatedAt}
	if err := s.publish(key, out, origin); err != nil {
		return nil, err
	}
	metrics.WsMessagesTotal.WithLabelValues("room").Inc()
	return &MessageDTO{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.AuthorID,
		Username:  user.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// PostDirect 发送私聊消息，双方必须是好友。
func (s *ChatService) PostDirect(ctx context.Context, user auth.CurrentUser, otherID, content string, origin *ws.Subscription) (*MessageDTO, error) {
	if err := checkContent(content); err != nil {
		return nil, err
	}
	if err := s.authorizeDirect(ctx, user, otherID); err != nil {
		return nil, err
	}

	key := DirectKey(user.ID, otherID)
	at, unlock := s.seq.lock(key, s.now())
	defer unlock()
	msg, err := s.log.AppendDirect(ctx, user.ID, otherID, content, at)
	if err != nil {
		return nil, err
	}
	out := ws.OutboundMessage{ID: msg.ID, SenderID: user.ID, ReceiverID: otherID, Username: user.Username, Content: msg.Content, CreatedAt: msg.CreatedAt}
	if err := s.publish(key, out, origin); err != nil {
		return nil, err
	}
	metrics.WsMessagesTotal.WithLabelValues("direct").Inc()
	return &MessageDTO{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Username:   user.Username,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}, nil
}

func (s *ChatService) publish(key string, out ws.OutboundMessage, origin *ws.Subscription) error {
	b, err := out.Encode()
	if err != nil {
		return err
	}
	s.hub.Publish(key, b, origin)
	return nil
}

func (s *ChatService) authorizeDirect(ctx context.Context, user auth.CurrentUser, otherID string) error {
	if err := checkID(otherID); err != nil {
		return err
	}
	if user.ID == otherID {
		return ErrSelfRelationship
	}
	ok, err := s.rels.CanMessage(ctx, user.ID, otherID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

// RoomHistory 返回房间历史消息，调用者必须是成员。
func (s *ChatService) RoomHistory(ctx context.Context, user auth.CurrentUser, roomID string, page Page) ([]MessageDTO, error) {
	if err := s.rooms.Authorize(ctx, user.ID, roomID); err != nil {
		return nil, err
	}
	return s.log.ListByRoom(ctx, roomID, s.clampPage(page))
}

// DirectHistory 返回与 otherID 的私聊历史。
func (s *ChatService) DirectHistory(ctx context.Context, user auth.CurrentUser, otherID string, page Page) ([]MessageDTO, error) {
	if err := checkID(otherID); err != nil {
		return nil, err
	}
	if user.ID == otherID {
		return nil, ErrSelfRelationship
	}
	return s.log.ListDirect(ctx, user.ID, otherID, s.clampPage(page))
}

// RoomStream 把房间接入 WebSocket 连接处理器。
type RoomStream struct{ chat *ChatService }

func (s *ChatService) RoomStream() RoomStream { return RoomStream{chat: s} }

func (r RoomStream) Open(ctx context.Context, user auth.CurrentUser, roomID string) (string, error) {
	if err := r.chat.rooms.Authorize(ctx, user.ID, roomID); err != nil {
		return "", err
	}
	return RoomKey(roomID), nil
}

func (r RoomStream) Post(ctx context.Context, user auth.CurrentUser, roomID, content string, origin *ws.Subscription) error {
	_, err := r.chat.PostRoom(ctx, user, roomID, content, origin)
	return err
}

// DirectStream 把私聊会话接入 WebSocket 连接处理器。
type DirectStream struct{ chat *ChatService }

func (s *ChatService) DirectStream() DirectStream { return DirectStream{chat: s} }

func (d DirectStream) Open(ctx context.Context, user auth.CurrentUser, otherID string) (string, error) {
	if err := d.chat.authorizeDirect(ctx, user, otherID); err != nil {
		return "", err
	}
	return DirectKey(user.ID, otherID), nil
}

func (d DirectStream) Post(ctx context.Context, user auth.CurrentUser, otherID, content string, origin *ws.Subscription) error {
	_, err := d.chat.PostDirect(ctx, user, otherID, content, origin)
	return err
}

var (
	_ ws.Stream      = RoomStream{}
	_ ws.Stream      = DirectStream{}
	_ auth.Validator = (*AuthService)(nil)
)
