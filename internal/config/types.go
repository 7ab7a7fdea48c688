package config

import "time"

type Config struct {
	// AssistantTokens is the pool of streaming-capable bot accounts.
	// Each token becomes one connection slot; chats are stickily
	// assigned to a slot by index.
	AssistantTokens []string

	DataDir  string
	CacheDir string
	TmpDir   string

	CacheLimitBytes  int64
	QueueLimit       int
	PlaylistLimit    int
	DurationLimitSec int
	MaxFileBytes     int64

	VideoPlay bool

	// CookiesDir holds *.txt cookie files used as rotating fetch
	// credentials.
	CookiesDir string

	// ProgressInterval bounds how often a running transfer may report
	// progress to the notifier.
	ProgressInterval time.Duration

	SpotifyClientID     string
	SpotifyClientSecret string

	MetricsAddr string
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
