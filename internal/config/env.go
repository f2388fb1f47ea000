package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Getenv returns the trimmed value of key, or fallback when unset.
func Getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// GetenvInt returns key parsed as an int, or fallback when unset or invalid.
func GetenvInt(key string, fallback int) int {
	raw := Getenv(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetenvDuration returns key parsed as a time.Duration, or fallback when unset or invalid.
func GetenvDuration(key string, fallback time.Duration) time.Duration {
	raw := Getenv(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetenvList splits a comma-separated env value, dropping empty entries.
func GetenvList(key string, fallback []string) []string {
	raw := Getenv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseICEServers parses a comma-separated list of ICE server entries.
// Each entry is either a bare URL or "url|username|credential".
//
//	stun:stun.l.google.com:19302,turn:turn.example.com:3478|alice|secret
func ParseICEServers(raw string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, "|", 3)
		server := webrtc.ICEServer{URLs: []string{strings.TrimSpace(parts[0])}}
		if len(parts) == 3 {
			server.Username = strings.TrimSpace(parts[1])
			server.Credential = strings.TrimSpace(parts[2])
		}
		servers = append(servers, server)
	}
	return servers
}

// LoadTiming overlays MENTORCALL_* environment overrides on DefaultTiming.
func LoadTiming() Timing {
	t := DefaultTiming()
	t.OfferDelay = GetenvDuration("MENTORCALL_OFFER_DELAY", t.OfferDelay)
	t.GatherTimeout = GetenvDuration("MENTORCALL_GATHER_TIMEOUT", t.GatherTimeout)
	t.DisconnectGrace = GetenvDuration("MENTORCALL_DISCONNECT_GRACE", t.DisconnectGrace)
	t.RestartDelay = GetenvDuration("MENTORCALL_RESTART_DELAY", t.RestartDelay)
	t.MaxRestarts = GetenvInt("MENTORCALL_MAX_RESTARTS", t.MaxRestarts)
	t.ConnectAttempts = GetenvInt("MENTORCALL_CONNECT_ATTEMPTS", t.ConnectAttempts)
	t.RequestTimeout = GetenvDuration("MENTORCALL_REQUEST_TIMEOUT", t.RequestTimeout)
	return t
}

// RedisConfig addresses the relay's presence store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Addr           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string // empty disables authentication

	TURNSecret    string   // shared secret for TURN REST credentials
	TURNURLs      []string // relay server URLs handed out with credentials
	CredentialTTL time.Duration

	Redis RedisConfig // empty Addr keeps presence in memory
}

// LoadRelay reads the relay configuration from RELAY_* environment variables.
func LoadRelay() *RelayConfig {
	return &RelayConfig{
		Addr:           Getenv("RELAY_ADDR", ":5000"),
		Environment:    Getenv("RELAY_ENVIRONMENT", "development"),
		AllowedOrigins: GetenvList("RELAY_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		JWTSecret:      Getenv("RELAY_JWT_SECRET", ""),
		TURNSecret:     Getenv("RELAY_TURN_SECRET", ""),
		TURNURLs:       GetenvList("RELAY_TURN_URLS", nil),
		CredentialTTL:  GetenvDuration("RELAY_CREDENTIAL_TTL", time.Hour),
		Redis: RedisConfig{
			Addr:     Getenv("RELAY_REDIS_ADDR", ""),
			Password: Getenv("RELAY_REDIS_PASSWORD", ""),
			DB:       GetenvInt("RELAY_REDIS_DB", 0),
		},
	}
}
