package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Track is a Spotify track reduced to what a search query needs.
type Track struct {
	Name   string
	Artist string
}

// Query renders the track as a text search query.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}

// Spotify resolves Spotify links to track names. Playback always goes
// through the regular search path afterwards; Spotify only supplies
// metadata.
type Spotify struct {
	raw *spotify.Client
}

func NewSpotify(clientID, clientSecret string) (*Spotify, error) {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	cl := spotify.New(cfg.Client(context.Background()), spotify.WithRetry(true))
	return &Spotify{raw: cl}, nil
}

// IsSpotifyLink reports whether raw points into Spotify.
func IsSpotifyLink(raw string) bool {
	if strings.HasPrefix(raw, "spotify:") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == "open.spotify.com" || u.Host == "www.open.spotify.com"
}

func parseLink(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path %q", u.Path)
	}
	switch parts[0] {
	case "album", "playlist", "track":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify link type %q", parts[0])
}

// TrackQuery resolves a single-track link to a search query.
func (s *Spotify) TrackQuery(ctx context.Context, raw string) (string, error) {
	typ, id, err := parseLink(raw)
	if err != nil {
		return "", err
	}
	if typ != "track" {
		return "", fmt.Errorf("expected a spotify track link, got %s", typ)
	}
	t, err := s.raw.GetTrack(ctx, id)
	if err != nil {
		return "", err
	}
	return simpleTrack(t.SimpleTrack).Query(), nil
}

// Tracks expands a track, album or playlist link.
func (s *Spotify) Tracks(ctx context.Context, raw string) ([]Track, error) {
	typ, id, err := parseLink(raw)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "track":
		t, err := s.raw.GetTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		return []Track{simpleTrack(t.SimpleTrack)}, nil
	case "album":
		return s.albumTracks(ctx, id)
	case "playlist":
		return s.playlistTracks(ctx, id)
	}
	return nil, fmt.Errorf("unsupported spotify link type %q", typ)
}

func simpleTrack(t spotify.SimpleTrack) Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist}
}

func (s *Spotify) albumTracks(ctx context.Context, id spotify.ID) ([]Track, error) {
	page, err := s.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []Track
	for {
		for _, t := range page.Tracks {
			out = append(out, simpleTrack(t))
		}
		if page.Next == "" {
			break
		}
		if err := s.raw.NextPage(ctx, page); err != nil {
			break
		}
	}
	return out, nil
}

func (s *Spotify) playlistTracks(ctx context.Context, id spotify.ID) ([]Track, error) {
	page, err := s.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []Track
	for {
		for _, it := range page.Items {
			if it.Track.Track == nil {
				continue
			}
			out = append(out, simpleTrack(it.Track.Track.SimpleTrack))
		}
		if page.Next == "" {
			break
		}
		if err := s.raw.NextPage(ctx, page); err != nil {
			break
		}
	}
	return out, nil
}
