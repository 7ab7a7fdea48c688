// Package resolver turns free-text queries, video URLs, playlist URLs
// and Spotify links into media descriptors, and downloads artifacts
// for the fetch pipeline.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/media"
	"github.com/fallenassoc/anonplay/internal/utils"
)

// audioFormat prefers opus so playback can often skip transcoding.
const audioFormat = "ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best"

var installOnce sync.Once

func ensureInstalled(ctx context.Context) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})
}

type Resolver struct {
	cfg     *config.Config
	spotify *Spotify
}

func New(cfg *config.Config) (*Resolver, error) {
	r := &Resolver{cfg: cfg}
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp, err := NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		if err != nil {
			return nil, fmt.Errorf("spotify client: %w", err)
		}
		r.spotify = sp
	}
	return r, nil
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func descriptorFrom(info *ytdlp.ExtractedInfo) *media.Descriptor {
	if info == nil {
		return nil
	}
	url := derefStr(info.WebpageURL)
	if url == "" {
		url = derefStr(info.URL)
	}
	return &media.Descriptor{
		ID:          info.ID,
		Title:       derefStr(info.Title),
		Uploader:    derefStr(info.Uploader),
		DurationSec: int(derefFloat(info.Duration)),
		URL:         url,
		Live:        derefBool(info.IsLive),
	}
}

func extract(ctx context.Context, target string) (*ytdlp.ExtractedInfo, error) {
	ensureInstalled(ctx)
	cmd := ytdlp.New().
		Format(audioFormat).
		NoCheckCertificates().
		DumpJSON()
	res, err := cmd.Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, nil
	}
	return infos[0], nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Search resolves a query or direct URL to a single descriptor. It
// returns nil when nothing matched.
func (r *Resolver) Search(ctx context.Context, query string) (*media.Descriptor, error) {
	if r.spotify != nil && IsSpotifyLink(query) {
		name, err := r.spotify.TrackQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		query = name
	}
	target := query
	if !isURL(target) {
		target = "ytsearch1:" + target
	}
	info, err := extract(ctx, target)
	if err != nil || info == nil {
		return nil, err
	}
	if len(info.Entries) > 0 {
		for _, e := range info.Entries {
			if e != nil {
				return descriptorFrom(e), nil
			}
		}
		return nil, nil
	}
	return descriptorFrom(info), nil
}

// ResolvePlaylist expands a playlist URL into at most limit
// descriptors. Oversized playlists are sampled at random so repeated
// plays of a big playlist vary.
func (r *Resolver) ResolvePlaylist(ctx context.Context, url string, limit int) ([]media.Descriptor, error) {
	if r.spotify != nil && IsSpotifyLink(url) {
		return r.resolveSpotify(ctx, url, limit)
	}
	info, err := extract(ctx, url)
	if err != nil || info == nil {
		return nil, err
	}
	var out []media.Descriptor
	for _, e := range info.Entries {
		if d := descriptorFrom(e); d != nil {
			out = append(out, *d)
		}
	}
	if len(out) == 0 {
		if d := descriptorFrom(info); d != nil && d.ID != "" {
			out = append(out, *d)
		}
	}
	return sample(out, limit), nil
}

func (r *Resolver) resolveSpotify(ctx context.Context, url string, limit int) ([]media.Descriptor, error) {
	tracks, err := r.spotify.Tracks(ctx, url)
	if err != nil {
		return nil, err
	}
	queries := make([]string, 0, len(tracks))
	for _, t := range tracks {
		queries = append(queries, t.Query())
	}
	queries = sample(queries, limit)

	var out []media.Descriptor
	for _, q := range queries {
		d, err := r.Search(ctx, q)
		if err != nil || d == nil {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func sample[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	utils.ShuffleSlice(items)
	return items[:limit]
}
