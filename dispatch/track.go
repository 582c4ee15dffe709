package dispatch

import (
	"errors"
	"regexp"
	"strings"
)

// ErrBadTrack means a SetSong payload carries no usable track reference.
var ErrBadTrack = errors.New("no track reference")

var trackIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// TrackID extracts the track id from a share link
// ("https://open.spotify.com/track/<id>?si=...") or a "spotify:track:<id>" URI.
func TrackID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	var id string
	switch {
	case strings.HasPrefix(ref, "spotify:track:"):
		id = strings.TrimPrefix(ref, "spotify:track:")
	case strings.Contains(ref, "/track/"):
		id = ref[strings.Index(ref, "/track/")+len("/track/"):]
		if i := strings.IndexAny(id, "?#/"); i >= 0 {
			id = id[:i]
		}
	default:
		return "", ErrBadTrack
	}
	if !trackIDPattern.MatchString(id) {
		return "", ErrBadTrack
	}
	return id, nil
}
