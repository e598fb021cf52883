package model

import "fmt"

// NowPlayingMarker is the per-listener liveness entry. Its absence or a
// content change is the signal that stops an in-flight continuous stream.
type NowPlayingMarker struct {
	TrackID     int64  `json:"trackId"`
	Title       string `json:"title"`
	ExternalRef string `json:"externalRef"`
}

// MarkerForTrack builds the marker written when playback of t begins.
func MarkerForTrack(t *Track) NowPlayingMarker {
	return NowPlayingMarker{
		TrackID:     t.ID,
		Title:       t.Title,
		ExternalRef: t.ExternalRef,
	}
}

// Equal compares the full marker content, not just the track id, so a
// same-track restart is still observed as a change by an older stream.
func (m NowPlayingMarker) Equal(o NowPlayingMarker) bool {
	return m == o
}

// URL renders the external link shown in now-playing metadata.
func (m NowPlayingMarker) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", m.ExternalRef)
}
