// Package cache stores fetched media artifacts on disk, with total-size
// LRU eviction tracked through the repository's file_cache table.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/repository"
)

type FileCache struct {
	cfg  *config.Config
	repo *repository.Repo
	mu   sync.Mutex
}

func NewFileCache(cfg *config.Config, repo *repository.Repo) *FileCache {
	return &FileCache{cfg: cfg, repo: repo}
}

func (c *FileCache) HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) PathFor(hash string) string {
	return filepath.Join(c.cfg.CacheDir, hash)
}

// Lookup returns the artifact path for key if it is present on disk,
// bumping its access time. A stale db row whose file is gone is pruned.
func (c *FileCache) Lookup(ctx context.Context, key string) (string, bool) {
	hash := c.HashKey(key)
	p := c.PathFor(hash)
	if _, err := os.Stat(p); err == nil {
		_ = c.repo.CacheTouch(ctx, hash, 0, false)
		return p, true
	}
	_ = c.repo.CacheRemove(ctx, hash)
	return "", false
}

// Promote moves a freshly downloaded file into the cache under key and
// returns the final artifact path. Empty files are discarded.
func (c *FileCache) Promote(ctx context.Context, key, src string) (string, error) {
	hash := c.HashKey(key)
	final := c.PathFor(hash)

	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		_ = os.Remove(src)
		return "", os.ErrNotExist
	}
	if err := os.Rename(src, final); err != nil {
		return "", err
	}
	_ = c.repo.CacheTouch(ctx, hash, info.Size(), true)
	if err := c.evictIfNeeded(ctx); err != nil {
		return final, err
	}
	return final, nil
}

// Discard removes any partial download left at src.
func (c *FileCache) Discard(src string) {
	if src != "" {
		_ = os.Remove(src)
	}
}

func (c *FileCache) evictIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, err := c.repo.CacheTotalBytes(ctx)
	if err != nil {
		return err
	}
	for total > c.cfg.CacheLimitBytes {
		oldest, err := c.repo.CacheOldest(ctx)
		if err != nil {
			return err
		}
		_ = os.Remove(c.PathFor(oldest))
		_ = c.repo.CacheRemove(ctx, oldest)
		total, err = c.repo.CacheTotalBytes(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
