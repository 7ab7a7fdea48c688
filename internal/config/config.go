package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func atoi(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func mustAtoi64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	dataDir := getenv("DATA_DIR", "./data")
	cacheDir := filepath.Join(dataDir, "cache")
	tmpDir := filepath.Join(cacheDir, "tmp")

	var tokens []string
	for _, t := range strings.Fields(os.Getenv("ASSISTANT_TOKENS")) {
		if t != "" {
			tokens = append(tokens, t)
		}
	}

	cfg := &Config{
		AssistantTokens:  tokens,
		DataDir:          dataDir,
		CacheDir:         cacheDir,
		TmpDir:           tmpDir,
		CacheLimitBytes:  mustAtoi64(getenv("CACHE_LIMIT", "2147483648")), // default 2GB
		QueueLimit:       atoi(getenv("QUEUE_LIMIT", "20"), 20),
		PlaylistLimit:    atoi(getenv("PLAYLIST_LIMIT", "20"), 20),
		DurationLimitSec: atoi(getenv("DURATION_LIMIT", "60"), 60) * 60,
		MaxFileBytes:     mustAtoi64(getenv("MAX_FILE_BYTES", "209715200")), // default 200MB
		VideoPlay:        getenv("VIDEO_PLAY", "true") == "true",
		CookiesDir:       getenv("COOKIES_DIR", filepath.Join(dataDir, "cookies")),
		ProgressInterval: time.Duration(atoi(getenv("PROGRESS_INTERVAL", "5"), 5)) * time.Second,

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if len(cfg.AssistantTokens) == 0 {
		return nil, ErrConfig("ASSISTANT_TOKENS required")
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	_ = os.MkdirAll(cfg.CacheDir, 0o755)
	_ = os.MkdirAll(cfg.TmpDir, 0o755)
	return cfg, nil
}
