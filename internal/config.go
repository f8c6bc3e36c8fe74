package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8000"`
	GrpcPort int    `env:"GRPC_PORT,default=8001"`
	// DebugPort serves the badger inspector when LOG_LEVEL is DEBUG, 0 disables it
	DebugPort int    `env:"DEBUG_PORT,default=0"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`

	Storage        string `env:"STORAGE,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DBMaxConns     int    `env:"DB_MAX_CONNS,default=10"`

	JWTSecret    string `env:"JWT_SECRET,required=true"`
	JWTAlgorithm string `env:"JWT_ALGORITHM,default=HS256"`
	JWTExpHours  int    `env:"JWT_EXP_HOURS,default=24"`

	HistoryLimit         int `env:"HISTORY_LIMIT,default=50"`
	ConnectionBufferSize int `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxContentLength     int `env:"MAX_CONTENT_LENGTH,default=2000"`
	InboundRatePerSec    int `env:"INBOUND_RATE_PER_SEC,default=40"`

	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PingInterval      time.Duration `env:"PING_INTERVAL,default=30s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT,default=5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=1m"`

	ModerationWordsDir string `env:"MODERATION_WORDS_DIR"`
	CharReplacement    string `env:"CHARACTER_REPLACEMENT,default=*"`
	AllowedOrigins     string `env:"ALLOWED_ORIGINS"`
}

// Validate checks what the env tags can't express.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	check(c.Port > 0 && c.Port < 65536, "PORT %d is out of range", c.Port)
	check(c.GrpcPort > 0 && c.GrpcPort < 65536, "GRPC_PORT %d is out of range", c.GrpcPort)
	check(c.DebugPort >= 0 && c.DebugPort < 65536, "DEBUG_PORT %d is out of range", c.DebugPort)
	check(lo.Contains([]string{StorageBadger, StoragePostgres}, c.Storage), "STORAGE must be %s or %s, got %q", StorageBadger, StoragePostgres, c.Storage)
	check(c.Storage != StorageBadger || c.BadgerFilepath != "", "BADGER_FILEPATH is required with badger storage")
	check(c.Storage != StoragePostgres || c.DatabaseURL != "", "DATABASE_URL is required with postgres storage")
	check(c.DBMaxConns > 0, "DB_MAX_CONNS must be positive")
	check(len(c.JWTSecret) >= 16, "JWT_SECRET must hold at least 16 characters")
	_, isHMAC := jwt.GetSigningMethod(c.JWTAlgorithm).(*jwt.SigningMethodHMAC)
	check(isHMAC, "JWT_ALGORITHM %q is not an HMAC algorithm", c.JWTAlgorithm)
	check(c.JWTExpHours > 0, "JWT_EXP_HOURS must be positive")
	check(c.HistoryLimit > 0 && c.HistoryLimit <= 200, "HISTORY_LIMIT must be within [1, 200]")
	check(c.ConnectionBufferSize > 0, "CONNECTION_BUFFER_SIZE must be positive")
	check(c.MaxContentLength > 0, "MAX_CONTENT_LENGTH must be positive")
	check(c.InboundRatePerSec >= 0, "INBOUND_RATE_PER_SEC can't be negative")
	for name, d := range map[string]time.Duration{
		"WRITE_TIMEOUT":       c.WriteTimeout,
		"PING_INTERVAL":       c.PingInterval,
		"READ_HEADER_TIMEOUT": c.ReadHeaderTimeout,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
		"RESTART_INTERVAL":    c.RestartInterval,
		"METRIC_INTERVAL":     c.MetricInterval,
	} {
		check(d > 0, "%s must be positive", name)
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpHours) * time.Hour
}

// Origins splits ALLOWED_ORIGINS, an empty list allowing any origin.
func (c Config) Origins() []string {
	return lo.Compact(lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
}

// ReadLimit bounds an inbound websocket frame: the longest content, four
// bytes per rune, plus room for the JSON envelope.
func (c Config) ReadLimit() int64 {
	return int64(c.MaxContentLength)*4 + 1024
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("CHARACTER_REPLACEMENT must be a single character, got %q", str)
	}
	return r[0], nil
}
