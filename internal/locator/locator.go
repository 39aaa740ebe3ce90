package locator

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var ErrUnsupported = errors.New("unsupported video locator")

// Kind tags which backend a locator belongs to. The set is closed; the
// player factory switches on it.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindVimeo   Kind = "vimeo"
	KindFile    Kind = "file"
)

// Locator is a validated, canonicalized video reference. Canonical is the
// form written into RoomState so that every client resolves the same string
// to the same backend.
type Locator struct {
	Kind      Kind
	ID        string
	Canonical string
}

var videoExtensions = []string{".mp4", ".webm", ".ogg", ".ogv", ".mov", ".m3u8"}

var (
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
	vimeoIDPattern   = regexp.MustCompile(`^[0-9]+$`)
)

// Parse validates a raw locator string and maps it to a canonical form.
// Anything that is not a recognized YouTube URL, Vimeo URL, or direct video
// file is rejected before it can reach a player backend.
func Parse(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, ErrUnsupported
	}

	if isVideoFile(raw) {
		return Locator{Kind: KindFile, ID: raw, Canonical: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Locator{}, ErrUnsupported
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	switch host {
	case "youtube.com", "youtube-nocookie.com":
		if id := youtubeIDFromPath(u); id != "" {
			return youtubeLocator(id), nil
		}
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); youtubeIDPattern.MatchString(id) {
			return youtubeLocator(id), nil
		}
	case "vimeo.com", "player.vimeo.com":
		if id := vimeoIDFromPath(u.Path); id != "" {
			return vimeoLocator(id), nil
		}
	}

	return Locator{}, ErrUnsupported
}

func youtubeIDFromPath(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	switch {
	case path == "watch":
		if id := u.Query().Get("v"); youtubeIDPattern.MatchString(id) {
			return id
		}
	case strings.HasPrefix(path, "embed/") || strings.HasPrefix(path, "shorts/"):
		parts := strings.Split(path, "/")
		if len(parts) == 2 && youtubeIDPattern.MatchString(parts[1]) {
			return parts[1]
		}
	}
	return ""
}

func vimeoIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	// Accept both vimeo.com/12345 and vimeo.com/video/12345.
	id := parts[len(parts)-1]
	if len(parts) > 1 && parts[0] != "video" {
		return ""
	}
	if !vimeoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func youtubeLocator(id string) Locator {
	return Locator{Kind: KindYouTube, ID: id, Canonical: "https://www.youtube.com/watch?v=" + id}
}

func vimeoLocator(id string) Locator {
	return Locator{Kind: KindVimeo, ID: id, Canonical: "https://vimeo.com/" + id}
}

func isVideoFile(raw string) bool {
	candidate := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		candidate = u.Path
	}
	lower := strings.ToLower(candidate)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
