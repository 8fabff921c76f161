package service

import (
	"context"
	"testing"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/db/dbtest"
	"github.com/TehShadow/Rusty/internal/ws"
	"gorm.io/gorm"
)

var testArgon2 = auth.Argon2Params{Memory: 64, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

type testEnv struct {
	db    *gorm.DB
	hub   *ws.Hub
	auth  *AuthService
	rooms *RoomService
	rels  *RelationshipService
	log   *MessageLog
	chat  *ChatService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := dbtest.Open(t)
	hub := ws.NewHub(ws.Options{SendBuffer: 16, Grace: time.Minute, EchoToSender: true})
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	authSvc := NewAuthService(gdb, auth.NewGormSessionStore(gdb), tokens, auth.NewHasher(testArgon2, 2), 24*time.Hour)
	rooms := NewRoomService(gdb, hub)
	rels := NewRelationshipService(gdb)
	mlog := NewMessageLog(gdb)
	return &testEnv{
		db:    gdb,
		hub:   hub,
		auth:  authSvc,
		rooms: rooms,
		rels:  rels,
		log:   mlog,
		chat:  NewChatService(mlog, rooms, rels, hub, 100),
	}
}

// user 注册并登录，返回经过校验的调用者身份。
func (e *testEnv) user(t *testing.T, name string) auth.CurrentUser {
	t.Helper()
	ctx := context.Background()
	if _, err := e.auth.Register(ctx, name, "password-"+name); err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	res, err := e.auth.Login(ctx, name, "password-"+name)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", name, err)
	}
	u, err := e.auth.Validate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Validate(%s) error = %v", name, err)
	}
	return *u
}

func (e *testEnv) friends(t *testing.T, a, b auth.CurrentUser) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.rels.Request(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, err := e.rels.Accept(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
}
