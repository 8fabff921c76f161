package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/config"
	"github.com/TehShadow/Rusty/internal/db"
	clog "github.com/TehShadow/Rusty/internal/log"
	"github.com/TehShadow/Rusty/internal/mw"
	"github.com/TehShadow/Rusty/internal/server"
	"github.com/TehShadow/Rusty/internal/service"
	"github.com/TehShadow/Rusty/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const purgeInterval = 10 * time.Minute

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	if err := config.LoadDotenv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN, cfg.DBMaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sessions auth.SessionStore
	switch cfg.SessionBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		defer rdb.Close()
		sessions = auth.NewRedisSessionStore(rdb)
	default:
		sessions = auth.NewGormSessionStore(gdb)
	}
	log.Info().Str("backend", cfg.SessionBackend).Msg("session store ready")

	hub := ws.NewHub(ws.Options{
		SendBuffer:   cfg.WSSendBuffer,
		Grace:        time.Duration(cfg.WSRoomGraceSeconds) * time.Second,
		EchoToSender: cfg.WSEchoToSender,
	})
	authSvc := service.NewAuthService(gdb, sessions,
		auth.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute),
		auth.NewHasher(auth.DefaultArgon2Params, 0),
		time.Duration(cfg.SessionTTLDays)*24*time.Hour)
	rooms := service.NewRoomService(gdb, hub)
	rels := service.NewRelationshipService(gdb)
	chat := service.NewChatService(service.NewMessageLog(gdb), rooms, rels, hub, cfg.MessagePageMax)

	// 控制单个 IP+路由的速率。
	limiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	go limiter.Run(ctx, 30*time.Second)
	go purgeSessions(ctx, authSvc)

	r := server.SetupRouter(server.Deps{
		Config:        cfg,
		Auth:          authSvc,
		Rooms:         rooms,
		Relationships: rels,
		Chat:          chat,
		Hub:           hub,
		Limiter:       limiter,
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	// hijacked 的 WebSocket 连接不受 Shutdown 管理，需要主动断开
	hub.Shutdown()
}

func purgeSessions(ctx context.Context, svc *service.AuthService) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredSessions(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("purged expired sessions")
			}
		}
	}
}
