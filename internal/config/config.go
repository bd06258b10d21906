package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the service.
type Config struct {
	Server    ServerConfig
	Telegram  TelegramConfig
	Portal    PortalConfig
	Store     StoreConfig
	Redis     RedisConfig
	Queue     QueueConfig
	AI        AIConfig
	Recommend RecommendConfig
	Session   SessionConfig
	LogLevel  string
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	portal, err := loadPortalConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	recommend, err := loadRecommendConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Telegram:  TelegramConfig{Token: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))},
		Portal:    portal,
		Store:     StoreConfig{Path: getEnvOrDefault("REVIEW_DB_PATH", "reviews.db")},
		Redis:     redis,
		Queue:     QueueConfig{URL: strings.TrimSpace(os.Getenv("RABBITMQ_URL"))},
		AI:        ai,
		Recommend: recommend,
		Session:   session,
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// loadServerConfig resolves the listen address from HTTP_ADDR or PORT.
func loadServerConfig() (ServerConfig, error) {
	if addr := strings.TrimSpace(os.Getenv("HTTP_ADDR")); addr != "" {
		return ServerConfig{Addr: addr}, nil
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as well.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// TelegramConfig enables the Telegram gateway when Token is set.
type TelegramConfig struct {
	Token string
}

// Enabled reports whether a bot token was provided.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// PortalConfig describes the food portal and the sign-in retry policy.
type PortalConfig struct {
	BaseURL      string
	Timeout      time.Duration
	AuthAttempts int
	RetryBackoff time.Duration
}

func loadPortalConfig() (PortalConfig, error) {
	timeout, err := parseDurationEnv("PORTAL_TIMEOUT", 20*time.Second)
	if err != nil {
		return PortalConfig{}, err
	}

	backoff, err := parseDurationEnv("PORTAL_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return PortalConfig{}, err
	}

	attempts := 3
	if override, err := parseOptionalIntEnv("PORTAL_AUTH_ATTEMPTS"); err != nil {
		return PortalConfig{}, err
	} else if override != nil {
		if *override < 1 {
			attempts = 1
		} else {
			attempts = *override
		}
	}

	return PortalConfig{
		BaseURL:      getEnvOrDefault("PORTAL_BASE_URL", "https://food.gums.ac.ir"),
		Timeout:      timeout,
		AuthAttempts: attempts,
		RetryBackoff: backoff,
	}, nil
}

// StoreConfig locates the review database.
type StoreConfig struct {
	Path string
}

// RedisConfig enables the aggregate cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func loadRedisConfig() (RedisConfig, error) {
	ttl, err := parseDurationEnv("REDIS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return RedisConfig{}, err
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}

	return RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      ttl,
	}, nil
}

// QueueConfig enables reservation event publishing when URL is set.
type QueueConfig struct {
	URL string
}

// AIConfig describes the recommendation model.
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration

	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIAPIKey  string
}

// Enabled reports whether the selected provider has enough configuration.
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIBaseURL != "" && c.OpenAIModel != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Providers accepted in AI_PROVIDER.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// NewChatModel creates the Ark chat model.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderOpenAI {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: want %s or %s", provider, ProviderArk, ProviderOpenAI)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 25*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		Timeout:       timeout,
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
	}, nil
}

// RecommendConfig bounds the recommendation prompt.
type RecommendConfig struct {
	MaxComments    int
	MaxPromptRunes int
}

func loadRecommendConfig() (RecommendConfig, error) {
	cfg := RecommendConfig{MaxComments: 3, MaxPromptRunes: 4000}

	if comments, err := parseOptionalIntEnv("RECOMMEND_MAX_COMMENTS"); err != nil {
		return RecommendConfig{}, err
	} else if comments != nil {
		cfg.MaxComments = *comments
		if cfg.MaxComments == 0 {
			// zero means none; the adapter reads 0 as its default.
			cfg.MaxComments = -1
		}
	}

	if runes, err := parseOptionalIntEnv("RECOMMEND_MAX_PROMPT"); err != nil {
		return RecommendConfig{}, err
	} else if runes != nil && *runes > 0 {
		cfg.MaxPromptRunes = *runes
	}

	return cfg, nil
}

// SessionConfig controls eviction of idle sessions. A zero IdleTTL keeps
// sessions until shutdown.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	interval := ttl / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	return SessionConfig{IdleTTL: ttl, SweepInterval: interval}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
