package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type TelephonyProvider string

const (
	TelephonyStub       TelephonyProvider = "stub"
	TelephonyVoximplant TelephonyProvider = "voximplant"
)

type STTProvider string

const (
	STTWhisper  STTProvider = "whisper"
	STTDeepgram STTProvider = "deepgram"
)

type DialogMode string

const (
	DialogModeTurn      DialogMode = "turn"
	DialogModeStreaming DialogMode = "streaming"
)

type LedgerBackend string

const (
	LedgerMemory LedgerBackend = "memory"
	LedgerSQLite LedgerBackend = "sqlite"
	LedgerHTTP   LedgerBackend = "http"
)

type Config struct {
	Host     string
	Port     int
	LogLevel string

	// APIAuthKey guards the /v1/calls routes. Webhooks stay open; the
	// telephony provider cannot send custom headers.
	APIAuthKey string

	// OpenAI backs chat completions, whisper STT, TTS and the realtime
	// streaming session.
	OpenAIAPIKey string
	GPTModel     string
	TTSVoice     string

	STTProvider    STTProvider
	DeepgramAPIKey string

	// Realtime session overrides; empty values fall back to the
	// realtime package defaults.
	RealtimeModel string
	RealtimeURL   string

	TelephonyProvider   TelephonyProvider
	VoximplantAccountID string
	VoximplantAPIKey    string
	VoximplantRuleID    string
	VoximplantCallerID  string

	// BackendURL is the publicly reachable base URL the provider calls
	// back into (webhooks, scenario callbacks).
	BackendURL string

	MaxCallDuration time.Duration
	MaxDialogTurns  int
	DialogMode      DialogMode

	LedgerBackend     LedgerBackend
	LedgerURL         string
	LedgerToken       string
	LedgerSQLitePath  string
	LedgerFallbackDir string

	// Per-call option defaults, applied when a create request leaves
	// the field empty.
	DefaultGreeting string
	DefaultPrompt   string
	DefaultLanguage string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Host:                envOr("HOST", "0.0.0.0"),
		Port:                envIntOr("PORT", 8000),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		APIAuthKey:          envOr("API_AUTH_KEY", ""),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		GPTModel:            envOr("GPT_MODEL", "gpt-4o"),
		TTSVoice:            envOr("TTS_VOICE", "alloy"),
		STTProvider:         STTProvider(envOr("STT_PROVIDER", string(STTWhisper))),
		DeepgramAPIKey:      envOr("DEEPGRAM_API_KEY", ""),
		RealtimeModel:       envOr("REALTIME_MODEL", ""),
		RealtimeURL:         envOr("REALTIME_URL", ""),
		TelephonyProvider:   TelephonyProvider(envOr("TELEPHONY_PROVIDER", string(TelephonyStub))),
		VoximplantAccountID: envOr("VOXIMPLANT_ACCOUNT_ID", ""),
		VoximplantAPIKey:    envOr("VOXIMPLANT_API_KEY", ""),
		VoximplantRuleID:    envOr("VOXIMPLANT_RULE_ID", ""),
		VoximplantCallerID:  envOr("VOXIMPLANT_CALLER_ID", "+74951234567"),
		BackendURL:          envOr("BACKEND_URL", ""),
		MaxCallDuration:     time.Duration(envIntOr("MAX_CALL_DURATION_SEC", 120)) * time.Second,
		MaxDialogTurns:      envIntOr("MAX_DIALOG_TURNS", 12),
		DialogMode:          DialogMode(envOr("DIALOG_MODE", string(DialogModeTurn))),
		LedgerBackend:       LedgerBackend(envOr("LEDGER_BACKEND", string(LedgerMemory))),
		LedgerURL:           envOr("LEDGER_URL", ""),
		LedgerToken:         envOr("LEDGER_TOKEN", ""),
		LedgerSQLitePath:    envOr("LEDGER_SQLITE_PATH", "outdial.db"),
		LedgerFallbackDir:   envOr("LEDGER_FALLBACK_DIR", "fallback_results"),
		DefaultGreeting:     envOr("DEFAULT_GREETING", ""),
		DefaultPrompt:       envOr("DEFAULT_PROMPT", ""),
		DefaultLanguage:     envOr("DEFAULT_LANGUAGE", "ru"),
		ReadHeaderTimeout:   envDurationOr("READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIAuthKey) == "" {
		return fmt.Errorf("API_AUTH_KEY must be set")
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set")
	}

	switch c.STTProvider {
	case STTWhisper:
	case STTDeepgram:
		if strings.TrimSpace(c.DeepgramAPIKey) == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY must be set when STT_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("STT_PROVIDER must be one of whisper|deepgram, got %q", c.STTProvider)
	}

	switch c.TelephonyProvider {
	case TelephonyStub:
	case TelephonyVoximplant:
		if strings.TrimSpace(c.VoximplantAccountID) == "" {
			return fmt.Errorf("VOXIMPLANT_ACCOUNT_ID must be set when TELEPHONY_PROVIDER=voximplant")
		}
		if strings.TrimSpace(c.VoximplantAPIKey) == "" {
			return fmt.Errorf("VOXIMPLANT_API_KEY must be set when TELEPHONY_PROVIDER=voximplant")
		}
		if strings.TrimSpace(c.VoximplantRuleID) == "" {
			return fmt.Errorf("VOXIMPLANT_RULE_ID must be set when TELEPHONY_PROVIDER=voximplant")
		}
	default:
		return fmt.Errorf("TELEPHONY_PROVIDER must be one of stub|voximplant, got %q", c.TelephonyProvider)
	}

	switch c.DialogMode {
	case DialogModeTurn, DialogModeStreaming:
	default:
		return fmt.Errorf("DIALOG_MODE must be one of turn|streaming, got %q", c.DialogMode)
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerSQLite:
		if strings.TrimSpace(c.LedgerSQLitePath) == "" {
			return fmt.Errorf("LEDGER_SQLITE_PATH must be set when LEDGER_BACKEND=sqlite")
		}
	case LedgerHTTP:
		if strings.TrimSpace(c.LedgerURL) == "" {
			return fmt.Errorf("LEDGER_URL must be set when LEDGER_BACKEND=http")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of memory|sqlite|http, got %q", c.LedgerBackend)
	}

	if c.MaxCallDuration <= 0 {
		return fmt.Errorf("MAX_CALL_DURATION_SEC must be > 0")
	}
	if c.MaxDialogTurns <= 0 {
		return fmt.Errorf("MAX_DIALOG_TURNS must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

// Addr is the host:port the HTTP server binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel maps LOG_LEVEL to a slog level. The usual spellings are
// accepted case-insensitively (debug, info, warn/warning, error).
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
