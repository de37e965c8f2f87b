package config

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Log       LogConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type JWTConfig struct {
	Secret         string
	Issuer         string
	ExpirationTime time.Duration
}

// DuplicateLoginPolicy decides what happens to a user's live connection when
// the same user authenticates again.
type DuplicateLoginPolicy string

const (
	// DuplicateLoginKeep overwrites the registry entry and leaves the older
	// connection open until it drops on its own.
	DuplicateLoginKeep DuplicateLoginPolicy = "keep"
	// DuplicateLoginClose overwrites the registry entry and closes the older
	// connection.
	DuplicateLoginClose DuplicateLoginPolicy = "close"
)

// SignalRouting selects how signal events reach their recipients.
type SignalRouting string

const (
	// SignalRoutingBroadcast relays a signal to every other member of the room,
	// ignoring its "to" field.
	SignalRoutingBroadcast SignalRouting = "broadcast"
	// SignalRoutingDirect relays a signal only to the member named by "to".
	SignalRoutingDirect SignalRouting = "direct"
)

type WebSocketConfig struct {
	AllowedOrigins       []string
	MaxMessageSize       int64
	PongWait             time.Duration
	WriteWait            time.Duration
	RateLimit            float64
	RateBurst            int
	DuplicateLoginPolicy DuplicateLoginPolicy
	SignalRouting        SignalRouting
	HandshakeRateLimit   int
	HandshakeRateWindow  time.Duration
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers   []string
	CallTopic string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SIGNAL_HOST", "")
	v.SetDefault("SIGNAL_PORT", "8080")
	v.SetDefault("SIGNAL_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("SIGNAL_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("SIGNAL_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SIGNAL_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("JWT_SECRET", "secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_EXPIRE", "24h")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_WRITE_WAIT", 10*time.Second)
	v.SetDefault("WS_RATE_LIMIT", 20)
	v.SetDefault("WS_RATE_BURST", 40)
	v.SetDefault("DUPLICATE_LOGIN_POLICY", string(DuplicateLoginKeep))
	v.SetDefault("SIGNAL_ROUTING", string(SignalRoutingBroadcast))
	v.SetDefault("HANDSHAKE_RATE_LIMIT", 30)
	v.SetDefault("HANDSHAKE_RATE_WINDOW", time.Minute)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_CALL_TOPIC", "loverose.call-events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// LoadConfig reads the process configuration once from the environment and an
// optional .env file.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}

		v := viper.New()
		v.AutomaticEnv()
		ConfigInstance = Load(v)
	})

	return ConfigInstance, nil
}

// Load builds a Config from v, filling in defaults for every unset key.
func Load(v *viper.Viper) *Config {
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("SIGNAL_HOST"),
			Port:            v.GetString("SIGNAL_PORT"),
			ReadTimeout:     v.GetDuration("SIGNAL_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SIGNAL_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SIGNAL_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SIGNAL_SHUTDOWN_TIMEOUT"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("JWT_SECRET"),
			Issuer:         v.GetString("JWT_ISSUER"),
			ExpirationTime: v.GetDuration("JWT_EXPIRE"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:       splitList(v.GetString("ALLOWED_ORIGINS")),
			MaxMessageSize:       v.GetInt64("WS_MAX_MESSAGE_SIZE"),
			PongWait:             v.GetDuration("WS_PONG_WAIT"),
			WriteWait:            v.GetDuration("WS_WRITE_WAIT"),
			RateLimit:            v.GetFloat64("WS_RATE_LIMIT"),
			RateBurst:            v.GetInt("WS_RATE_BURST"),
			DuplicateLoginPolicy: parseDuplicateLoginPolicy(v.GetString("DUPLICATE_LOGIN_POLICY")),
			SignalRouting:        parseSignalRouting(v.GetString("SIGNAL_ROUTING")),
			HandshakeRateLimit:   v.GetInt("HANDSHAKE_RATE_LIMIT"),
			HandshakeRateWindow:  v.GetDuration("HANDSHAKE_RATE_WINDOW"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:   splitList(v.GetString("KAFKA_BROKERS")),
			CallTopic: v.GetString("KAFKA_CALL_TOPIC"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func parseDuplicateLoginPolicy(value string) DuplicateLoginPolicy {
	switch p := DuplicateLoginPolicy(strings.ToLower(strings.TrimSpace(value))); p {
	case DuplicateLoginKeep, DuplicateLoginClose:
		return p
	default:
		slog.Warn("Unknown duplicate login policy, using default", "value", value, "default", DuplicateLoginKeep)
		return DuplicateLoginKeep
	}
}

func parseSignalRouting(value string) SignalRouting {
	switch r := SignalRouting(strings.ToLower(strings.TrimSpace(value))); r {
	case SignalRoutingBroadcast, SignalRoutingDirect:
		return r
	default:
		slog.Warn("Unknown signal routing mode, using default", "value", value, "default", SignalRoutingBroadcast)
		return SignalRoutingBroadcast
	}
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
