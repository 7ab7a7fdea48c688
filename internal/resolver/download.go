package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/fetch"
	"github.com/fallenassoc/anonplay/internal/stream"
)

// videoFormat caps resolution; voice calls never need more.
const videoFormat = "bv[height<=720]+ba/b[height<=720]/b"

// Downloader transfers media artifacts with yt-dlp. It implements
// fetch.Transport: one call downloads one content id into a private
// scratch directory and returns the produced file.
type Downloader struct {
	cfg *config.Config
}

func NewDownloader(cfg *config.Config) *Downloader {
	return &Downloader{cfg: cfg}
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func (d *Downloader) Transfer(ctx context.Context, id string, video bool, cred string, progress func(fetch.Progress)) (string, error) {
	ensureInstalled(ctx)

	scratch, err := os.MkdirTemp(d.cfg.TmpDir, "dl-*")
	if err != nil {
		return "", fmt.Errorf("scratch dir: %w", err)
	}

	format := audioFormat
	if video {
		format = videoFormat
	}
	cmd := ytdlp.New().
		Format(format).
		Output(filepath.Join(scratch, "%(id)s.%(ext)s")).
		NoPlaylist().
		NoCheckCertificates().
		MaxFilesize(fmt.Sprintf("%d", d.cfg.MaxFileBytes))
	if cred != "" {
		cmd = cmd.Cookies(cred)
	}
	if progress != nil {
		cmd = cmd.ProgressFunc(500*time.Millisecond, func(u ytdlp.ProgressUpdate) {
			progress(fetch.Progress{
				Downloaded: int64(u.DownloadedBytes),
				Total:      int64(u.TotalBytes),
			})
		})
	}

	if _, err := cmd.Run(ctx, watchURL(id)); err != nil {
		os.RemoveAll(scratch)
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}

	path, err := producedFile(scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	if err := d.validate(path); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	return path, nil
}

// validate probes the artifact before it reaches the cache: it must
// carry audio and honor the duration ceiling the resolver enforced on
// the advertised metadata.
func (d *Downloader) validate(path string) error {
	info, err := stream.Probe(path)
	if err != nil {
		return fmt.Errorf("probe artifact: %w", err)
	}
	if !info.HasAudio {
		return fmt.Errorf("artifact %s has no audio stream", filepath.Base(path))
	}
	if d.cfg.DurationLimitSec > 0 && info.DurationSec > int64(d.cfg.DurationLimitSec) {
		return fmt.Errorf("artifact %s exceeds duration limit (%ds > %ds)",
			filepath.Base(path), info.DurationSec, d.cfg.DurationLimitSec)
	}
	return nil
}

// producedFile finds the single artifact yt-dlp wrote. Partial .part
// files are skipped in case the run was interrupted mid-merge.
func producedFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan scratch dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".part" {
			continue
		}
		return filepath.Join(dir, e.Name()), nil
	}
	return "", fmt.Errorf("yt-dlp produced no file in %s", dir)
}
