package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/TehShadow/Rusty/internal/metrics"
)

// Options 控制 Hub 的缓冲、回收与回显行为。
type Options struct {
	// SendBuffer 是每个订阅者的发送缓冲长度，写满即断开该订阅者。
	SendBuffer int
	// Grace 是房间最后一个订阅者离开后保留 RoomHub 的时长。
	Grace time.Duration
	// EchoToSender 为 false 时，消息不会回发给发送者自己的连接。
	EchoToSender bool
}

// Hub 管理房间级别的子 Hub，实现延迟创建、并发安全与空闲回收。
// 所有对 rooms 的插入与删除都在 mu 下完成，加锁顺序固定为 Hub.mu -> RoomHub.mu。
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*RoomHub
	opts  Options
}

func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{rooms: make(map[string]*RoomHub), opts: opts}
}

// Subscribe 在房间不存在时创建 RoomHub 并注册一个新的订阅者。
// 查找与注册在同一把锁下完成，不会为同一个 key 创建两个 RoomHub。
func (h *Hub) Subscribe(key, userID, username string) *Subscription {
	sub := &Subscription{UserID: userID, Username: username, send: make(chan []byte, h.opts.SendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[key]
	if room == nil {
		room = &RoomHub{key: key, hub: h, subs: make(map[*Subscription]struct{})}
		h.rooms[key] = room
		metrics.HubRooms.Inc()
	}
	sub.room = room
	room.add(sub)
	return sub
}

// Publish 将 payload 投递给 key 对应房间的全部订阅者，返回成功投递的数量。
// 发送永不阻塞：缓冲已满的订阅者会被移除并关闭。
func (h *Hub) Publish(key string, payload []byte, origin *Subscription) int {
	for {
		h.mu.Lock()
		room := h.rooms[key]
		h.mu.Unlock()
		if room == nil {
			return 0
		}
		if n, ok := room.publish(payload, origin, h.opts.EchoToSender); ok {
			return n
		}
		// room was evicted between lookup and publish; look again
	}
}

// Online 返回房间当前订阅者数量。
func (h *Hub) Online(key string) int {
	h.mu.Lock()
	room := h.rooms[key]
	h.mu.Unlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Rooms 返回当前持有的 RoomHub 数量。
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown 断开所有订阅者，用于优雅停服。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*RoomHub, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		r.dropAll()
	}
}

func (h *Hub) scheduleEvict(room *RoomHub) {
	time.AfterFunc(h.opts.Grace, func() { h.evict(room) })
}

// evict 仅在房间仍为空且仍是当前映射值时删除它。
func (h *Hub) evict(room *RoomHub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room.key] != room {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.subs) > 0 {
		return
	}
	room.closed = true
	delete(h.rooms, room.key)
	metrics.HubRooms.Dec()
}

// RoomHub 是单个房间的多播通道。
type RoomHub struct {
	key    string
	hub    *Hub
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	online atomic.Int32
}

func (rh *RoomHub) add(s *Subscription) {
	rh.mu.Lock()
	rh.subs[s] = struct{}{}
	rh.online.Store(int32(len(rh.subs)))
	rh.mu.Unlock()
}

func (rh *RoomHub) remove(s *Subscription) {
	rh.mu.Lock()
	_, ok := rh.subs[s]
	if ok {
		delete(rh.subs, s)
		close(s.send)
		rh.online.Store(int32(len(rh.subs)))
	}
	empty := len(rh.subs) == 0
	rh.mu.Unlock()
	if ok && empty {
		rh.hub.scheduleEvict(rh)
	}
}

func (rh *RoomHub) publish(payload []byte, origin *Subscription, echo bool) (int, bool) {
	rh.mu.Lock()
	if rh.closed {
		rh.mu.Unlock()
		return 0, false
	}
	delivered, dropped := 0, 0
	for s := range rh.subs {
		if !echo && s == origin {
			continue
		}
		select {
		case s.send <- payload:
			delivered++
		default:
			delete(rh.subs, s)
			s.dropped.Store(true)
			close(s.send)
			dropped++
		}
	}
	rh.online.Store(int32(len(rh.subs)))
	empty := len(rh.subs) == 0
	rh.mu.Unlock()
	if dropped > 0 {
		metrics.SubscribersDropped.Add(float64(dropped))
		if empty {
			rh.hub.scheduleEvict(rh)
		}
	}
	return delivered, true
}

func (rh *RoomHub) dropAll() {
	rh.mu.Lock()
	for s := range rh.subs {
		delete(rh.subs, s)
		close(s.send)
	}
	rh.online.Store(0)
	rh.mu.Unlock()
	rh.hub.scheduleEvict(rh)
}

// Online 返回房间在线订阅者数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(rh.online.Load()) }

// Subscription 是连接借用的订阅句柄，生命周期不超过所属连接。
type Subscription struct {
	UserID   string
	Username string

	room    *RoomHub
	send    chan []byte
	once    sync.Once
	dropped atomic.Bool
}

// C 返回接收广播的通道；通道关闭表示订阅已结束。
func (s *Subscription) C() <-chan []byte { return s.send }

// Dropped 报告订阅是否因发送缓冲溢出被 Hub 移除。
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() {
	s.once.Do(func() { s.room.remove(s) })
}
