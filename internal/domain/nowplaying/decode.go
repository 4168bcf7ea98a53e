// ABOUTME: Decodes AzuraCast-style feed payloads into now-playing snapshots
// ABOUTME: Recognises keep-alive frames and frames without a now-playing record
package nowplaying

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeepAlive is the body of the feed's ping frame.
const KeepAlive = "."

var ErrMalformedPayload = errors.New("malformed payload")

type payload struct {
	Pub *struct {
		Data *struct {
			NP *record `json:"np"`
		} `json:"data"`
	} `json:"pub"`
}

type record struct {
	Station    *Station `json:"station"`
	NowPlaying *struct {
		Song *Song `json:"song"`
	} `json:"now_playing"`
	SongHistory []struct {
		Song *Song `json:"song"`
	} `json:"song_history"`
}

// IsKeepAlive reports whether raw carries no data: empty or the ping marker.
func IsKeepAlive(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || trimmed == KeepAlive
}

// Decode parses raw into a new snapshot. It returns (nil, nil) when the
// payload is valid but has no pub.data.np record.
func Decode(raw string) (*Snapshot, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Pub == nil || p.Pub.Data == nil || p.Pub.Data.NP == nil {
		return nil, nil
	}
	np := p.Pub.Data.NP

	snap := &Snapshot{}

	if np.Station != nil {
		st := *np.Station
		snap.Station = &st
	}

	if np.NowPlaying != nil && np.NowPlaying.Song != nil {
		song := *np.NowPlaying.Song
		snap.CurrentSong = &song
	}

	n := len(np.SongHistory)
	if n > HistoryLimit {
		n = HistoryLimit
	}
	snap.History = make([]Song, 0, n)
	for _, item := range np.SongHistory[:n] {
		var song Song
		if item.Song != nil {
			song = *item.Song
		}
		snap.History = append(snap.History, song)
	}

	return snap, nil
}
