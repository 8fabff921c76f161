package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	DBMaxOpenConns        int
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	SessionTTLDays        int
	SessionBackend        string
	RedisAddr             string
	RedisPassword         string
	CookieSecure          bool
	CORSAllowedOrigins    []string

	WSEchoToSender       bool
	WSIdleTimeoutSeconds int
	WSSendBuffer         int
	WSRoomGraceSeconds   int
	WSMessagesPerSecond  int

	MessagePageMax int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数，非法或非正值回退默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// getenvList 读取逗号分隔的列表，忽略空项。
func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotenv 在存在 .env 文件时将其加载到进程环境变量，已存在的变量不会被覆盖。
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() Config {
	env := getenv("APP_ENV", "dev")
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatroom port=5432 sslmode=disable TimeZone=UTC"),
		DBMaxOpenConns:        getenvInt("DB_MAX_OPEN_CONNS", 20),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   env,
		LogLevel:              getenv("LOG_LEVEL", "info"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		SessionTTLDays:        getenvInt("SESSION_TTL_DAYS", 7),
		SessionBackend:        strings.ToLower(getenv("SESSION_BACKEND", "db")),
		RedisAddr:             getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getenv("REDIS_PASSWORD", ""),
		CookieSecure:          getenvBool("COOKIE_SECURE", env != "dev"),
		CORSAllowedOrigins:    getenvList("CORS_ALLOWED_ORIGINS"),
		WSEchoToSender:        getenvBool("WS_ECHO_TO_SENDER", true),
		WSIdleTimeoutSeconds:  getenvInt("WS_IDLE_TIMEOUT_SECONDS", 60),
		WSSendBuffer:          getenvInt("WS_SEND_BUFFER", 256),
		WSRoomGraceSeconds:    getenvInt("WS_ROOM_GRACE_SECONDS", 30),
		WSMessagesPerSecond:   getenvInt("WS_MESSAGES_PER_SECOND", 20),
		MessagePageMax:        getenvInt("MESSAGE_PAGE_MAX", 500),
	}
}

// Validate 校验启动所需的关键配置，生产环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	if cfg.AccessTokenTTLMinutes < 0 || cfg.SessionTTLDays < 0 {
		return errors.New("config: token ttl must not be negative")
	}
	switch cfg.SessionBackend {
	case "", "db", "redis":
	default:
		return errors.New("config: SESSION_BACKEND must be db or redis")
	}
	return nil
}
