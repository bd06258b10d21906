package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "PORT", "PORTAL_TIMEOUT", "PORTAL_AUTH_ATTEMPTS", "AI_PROVIDER", "REDIS_ADDR", "RECOMMEND_MAX_COMMENTS", "SESSION_IDLE_TTL", "REVIEW_DB_PATH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Portal.BaseURL != "https://food.gums.ac.ir" || cfg.Portal.Timeout != 20*time.Second || cfg.Portal.AuthAttempts != 3 {
		t.Fatalf("unexpected portal config %+v", cfg.Portal)
	}
	if cfg.AI.Provider != ProviderArk {
		t.Fatalf("unexpected provider %q", cfg.AI.Provider)
	}
	if cfg.Recommend.MaxComments != 3 || cfg.Recommend.MaxPromptRunes != 4000 {
		t.Fatalf("unexpected recommend config %+v", cfg.Recommend)
	}
	if cfg.Redis.TTL != 5*time.Minute {
		t.Fatalf("unexpected redis ttl %s", cfg.Redis.TTL)
	}
	if cfg.Store.Path != "reviews.db" {
		t.Fatalf("reviews must default to a database file, got %q", cfg.Store.Path)
	}
	if cfg.Session.IdleTTL != 30*time.Minute || cfg.Session.SweepInterval != time.Minute {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9090")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORTAL_AUTH_ATTEMPTS", "0")
	t.Setenv("PORTAL_RETRY_BACKOFF", "2s")
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1/")
	t.Setenv("OPENAI_MODEL", "qwen")
	t.Setenv("RECOMMEND_MAX_COMMENTS", "0")
	t.Setenv("SESSION_IDLE_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Portal.AuthAttempts != 1 || cfg.Portal.RetryBackoff != 2*time.Second {
		t.Fatalf("unexpected portal config %+v", cfg.Portal)
	}
	if !cfg.AI.Enabled() || cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("openai provider should be enabled: %+v", cfg.AI)
	}
	if cfg.Recommend.MaxComments != -1 {
		t.Fatalf("zero comments should disable them, got %d", cfg.Recommend.MaxComments)
	}
	if cfg.Session.IdleTTL != 2*time.Minute || cfg.Session.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"PORTAL_TIMEOUT":       "soon",
		"PORTAL_AUTH_ATTEMPTS": "three",
		"AI_PROVIDER":          "bard",
		"PORT":                 "80 80",
		"SESSION_IDLE_TTL":     "forever",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("HTTP_ADDR", "")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
