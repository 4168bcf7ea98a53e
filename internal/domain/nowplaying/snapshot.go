// ABOUTME: Now-playing domain values: song, station and the snapshot replaced on each update
// ABOUTME: Snapshots are immutable once built and are swapped wholesale, never merged
package nowplaying

// HistoryLimit caps the recent history carried by a snapshot.
const HistoryLimit = 5

type Song struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Art    string `json:"art,omitempty"`
}

type Station struct {
	Name      string `json:"name"`
	ListenURL string `json:"listen_url"`
}

// Snapshot is the latest known server state. History is most-recent-first.
type Snapshot struct {
	Station     *Station `json:"station,omitempty"`
	CurrentSong *Song    `json:"current_song,omitempty"`
	History     []Song   `json:"history"`
}

// ListenURL returns the station stream URL, if the snapshot carries one.
func (s *Snapshot) ListenURL() (string, bool) {
	if s == nil || s.Station == nil || s.Station.ListenURL == "" {
		return "", false
	}
	return s.Station.ListenURL, true
}

func (s *Snapshot) StationName() string {
	if s == nil || s.Station == nil {
		return ""
	}
	return s.Station.Name
}
