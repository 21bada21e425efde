package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	DatabaseURL       string
	StoragePath       string
	StorageBaseURL    string
	XAIAPIKey         string
	XAIBaseURL        string
	XAIImageModel     string
	XAIVideoModel     string
	ImageConcurrency  int
	VideoConcurrency  int
	AdmissionSpacing  time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	FFmpegPath        string
	RenderProfilePath string
	HTTPReadTimeout   time.Duration
	ShutdownTimeout   time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
	CORSOrigins       []string
	// PromptMatch selects entity matching in prompts: "substring" or "word".
	PromptMatch       string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8094"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StoragePath:       getEnv("STORAGE_PATH", "./data/generated"),
		StorageBaseURL:    os.Getenv("STORAGE_BASE_URL"),
		XAIAPIKey:         strings.TrimSpace(os.Getenv("XAI_API_KEY")),
		XAIBaseURL:        getEnv("XAI_BASE_URL", "https://api.x.ai/v1"),
		XAIImageModel:     getEnv("XAI_IMAGE_MODEL", "grok-2-image"),
		XAIVideoModel:     getEnv("XAI_VIDEO_MODEL", "grok-imagine-video"),
		ImageConcurrency:  getEnvInt("IMAGE_CONCURRENCY", 3),
		VideoConcurrency:  getEnvInt("VIDEO_CONCURRENCY", 1),
		AdmissionSpacing:  getEnvDuration("ADMISSION_SPACING", 250*time.Millisecond),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollTimeout:       getEnvDuration("POLL_TIMEOUT", 300*time.Second),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		RenderProfilePath: os.Getenv("RENDER_PROFILE_PATH"),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		PromptMatch:       strings.ToLower(getEnv("PROMPT_MATCH", "substring")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ImageConcurrency < 1 {
		return nil, fmt.Errorf("IMAGE_CONCURRENCY must be positive, got %d", cfg.ImageConcurrency)
	}
	// Continuity chaining depends on a single video lane.
	if cfg.VideoConcurrency != 1 {
		return nil, fmt.Errorf("VIDEO_CONCURRENCY must be 1, got %d", cfg.VideoConcurrency)
	}
	if cfg.PollInterval <= 0 || cfg.PollTimeout < cfg.PollInterval {
		return nil, fmt.Errorf("invalid poll window: interval %s timeout %s", cfg.PollInterval, cfg.PollTimeout)
	}
	if cfg.PromptMatch != "substring" && cfg.PromptMatch != "word" {
		return nil, fmt.Errorf("PROMPT_MATCH must be substring or word, got %q", cfg.PromptMatch)
	}
	if !filepath.IsAbs(cfg.StoragePath) {
		if abs, err := filepath.Abs(cfg.StoragePath); err == nil {
			cfg.StoragePath = abs
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare integers are read as seconds.
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
