package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TehShadow/Rusty/internal/ws"
	"github.com/goccy/go-json"
)

func readOutbound(t *testing.T, sub *ws.Subscription) ws.OutboundMessage {
	t.Helper()
	select {
	case b, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		var out ws.OutboundMessage
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	return ws.OutboundMessage{}
}

func TestChatService_PostRoomPersistsThenPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.user(t, "alice"), env.user(t, "bob")
	room, _ := env.rooms.Create(ctx, a.ID, "x")
	if _, err := env.rooms.Join(ctx, b.ID, room.ID); err != nil {
		t.Fatal(err)
	}

	subA := env.hub.Subscribe(RoomKey(room.ID), a.ID, a.Username)
	subB := env.hub.Subscribe(RoomKey(room.ID), b.ID, b.Username)
	defer subA.Close()
	defer subB.Close()

	sent, err := env.chat.PostRoom(ctx, a, room.ID, "hi", subA)
	if err != nil {
		t.Fatalf("PostRoom() error = %v", err)
	}

	for name, sub := range map[string]*ws.Subscription{"a": subA, "b": subB} {
		got := readOutbound(t, sub)
		if got.ID != sent.ID || got.SenderID != a.ID || got.Content != "hi" || got.Username != "alice" {
			t.Errorf("%s received %+v", name, got)
		}
		if !got.CreatedAt.Equal(sent.CreatedAt) {
			t.Errorf("%s createdAt = %v, want %v", name, got.CreatedAt, sent.CreatedAt)
		}
	}

	history, err := env.chat.RoomHistory(ctx, b, room.ID, Page{})
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != sent.ID || history[0].Content != "hi" || history[0].SenderID != a.ID {
		t.Errorf("RoomHistory() = %+v", history)
	}
}

func TestChatService_PostRoomErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, c := env.user(t, "alice"), env.user(t, "carol")
	room, _ := env.rooms.Create(ctx, a.ID, "x")

	tests := []struct {
		name    string
		user    string
		content string
		want    error
	}{
		{"non-member", "carol", "hello", ErrNotMember},
		{"empty", "alice", "   ", ErrEmptyContent},
		{"too long", "alice", strings.Repeat("é", MaxContentRunes+1), ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := a
			if tt.user == "carol" {
				u = c
			}
			if _, err := env.chat.PostRoom(ctx, u, room.ID, tt.content, nil); !errors.Is(err, tt.want) {
				t.Errorf("PostRoom() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := env.chat.PostRoom(ctx, a, room.ID, strings.Repeat("é", MaxContentRunes), nil); err != nil {
		t.Errorf("PostRoom() at the rune limit error = %v", err)
	}
	if _, err := env.chat.RoomHistory(ctx, c, room.ID, Page{}); !errors.Is(err, ErrNotMember) {
		t.Errorf("RoomHistory() as non-member error = %v", err)
	}
}

func TestChatService_ConcurrentPostsKeepLogOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	room, _ := env.rooms.Create(ctx, a.ID, "busy")
	sub := env.hub.Subscribe(RoomKey(room.ID), a.ID, a.Username)
	defer sub.Close()

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.chat.PostRoom(ctx, a, room.ID, fmt.Sprintf("m%d", i), nil); err != nil {
				t.Errorf("PostRoom() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := env.chat.RoomHistory(ctx, a, room.ID, Page{})
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if len(history) != n {
		t.Fatalf("history length = %d, want %d", len(history), n)
	}
	for i, want := range history {
		got := readOutbound(t, sub)
		if got.ID != want.ID {
			t.Fatalf("broadcast #%d id = %d, log has %d", i, got.ID, want.ID)
		}
		if i > 0 && want.CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("createdAt went backwards at #%d", i)
		}
	}
}

func TestChatService_HistoryPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "alice")
	room, _ := env.rooms.Create(ctx, a.ID, "paged")
	var ids []uint
	for i := 0; i < 5; i++ {
		m, err := env.chat.PostRoom(ctx, a, room.ID, fmt.Sprint(i), nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	tests := []struct {
		name string
		page Page
		want []uint
	}{
		{"unbounded", Page{}, ids},
		{"latest two", Page{Limit: 2}, ids[3:]},
		{"before", Page{Limit: 2, BeforeID: ids[3]}, ids[1:3]},
		{"before without limit", Page{BeforeID: ids[2]}, ids[:2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.chat.RoomHistory(ctx, a, room.ID, tt.page)
			if err != nil {
				t.Fatalf("RoomHistory() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("RoomHistory() returned %d messages, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("message #%d id = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	env.chat.pageMax = 3
	got, _ := env.chat.RoomHistory(ctx, a, room.ID, Page{Limit: 50})
	if len(got) != 3 {
		t.Errorf("page limit not clamped: %d messages", len(got))
	}
}

func TestChatService_DirectMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b, c := env.user(t, "alice"), env.user(t, "bob"), env.user(t, "carol")

	if _, err := env.chat.PostDirect(ctx, a, b.ID, "hey", nil); !errors.Is(err, ErrNotFriends) {
		t.Fatalf("PostDirect() before friendship error = %v, want ErrNotFriends", err)
	}
	if _, err := env.chat.DirectStream().Open(ctx, a, b.ID); !errors.Is(err, ErrNotFriends) {
		t.Errorf("DirectStream.Open() before friendship error = %v", err)
	}
	if _, err := env.chat.PostDirect(ctx, a, a.ID, "me", nil); !errors.Is(err, ErrSelfRelationship) {
		t.Errorf("PostDirect(self) error = %v", err)
	}
	env.friends(t, a, b)

	keyA, err := env.chat.DirectStream().Open(ctx, a, b.ID)
	if err != nil {
		t.Fatalf("DirectStream.Open() error = %v", err)
	}
	keyB, _ := env.chat.DirectStream().Open(ctx, b, a.ID)
	if keyA != keyB {
		t.Fatalf("conversation keys differ: %q vs %q", keyA, keyB)
	}
	subB := env.hub.Subscribe(keyB, b.ID, b.Username)
	defer subB.Close()

	if _, err := env.chat.PostDirect(ctx, a, b.ID, "hey", nil); err != nil {
		t.Fatalf("PostDirect() error = %v", err)
	}
	if _, err := env.chat.PostDirect(ctx, b, a.ID, "yo", nil); err != nil {
		t.Fatalf("PostDirect() reply error = %v", err)
	}
	if got := readOutbound(t, subB); got.Content != "hey" || got.ReceiverID != b.ID {
		t.Errorf("bob received %+v", got)
	}

	for _, u := range []struct {
		self  string
		other string
	}{{a.ID, b.ID}, {b.ID, a.ID}} {
		who := a
		if u.self == b.ID {
			who = b
		}
		history, err := env.chat.DirectHistory(ctx, who, u.other, Page{})
		if err != nil {
			t.Fatalf("DirectHistory() error = %v", err)
		}
		if len(history) != 2 || history[0].Content != "hey" || history[1].Content != "yo" {
			t.Errorf("DirectHistory(%s) = %+v", u.self, history)
		}
	}

	if history, _ := env.chat.DirectHistory(ctx, c, a.ID, Page{}); len(history) != 0 {
		t.Errorf("third party sees %d direct messages", len(history))
	}
}

func TestRoomStream_OpenAndPost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, c := env.user(t, "alice"), env.user(t, "carol")
	room, _ := env.rooms.Create(ctx, a.ID, "x")
	stream := env.chat.RoomStream()

	key, err := stream.Open(ctx, a, room.ID)
	if err != nil || key != RoomKey(room.ID) {
		t.Fatalf("Open() = %q, %v", key, err)
	}
	if _, err := stream.Open(ctx, c, room.ID); !errors.Is(err, ErrNotMember) {
		t.Errorf("Open() as non-member error = %v", err)
	}
	if err := stream.Post(ctx, a, room.ID, "via stream", nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	history, _ := env.chat.RoomHistory(ctx, a, room.ID, Page{})
	if len(history) != 1 || history[0].Content != "via stream" {
		t.Errorf("history = %+v", history)
	}
}

func TestSequencer_NeverGoesBackwards(t *testing.T) {
	var q sequencer
	now := time.Now()
	first, unlock := q.lock("room:x", now)
	unlock()
	second, unlock := q.lock("room:x", now.Add(-time.Second))
	unlock()
	if second.Before(first) {
		t.Errorf("second stamp %v before first %v", second, first)
	}
	third, unlock := q.lock("room:x", now.Add(time.Second))
	unlock()
	if !third.After(first) {
		t.Errorf("clock moving forward not reflected: %v", third)
	}
}
