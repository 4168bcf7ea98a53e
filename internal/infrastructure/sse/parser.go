// ABOUTME: Line parser for the text/event-stream wire format
// ABOUTME: Accumulates data fields and dispatches one event per blank line
package sse

import (
	"bufio"
	"io"
	"strings"
)

// maxLineBytes bounds a single field line; now-playing payloads run to tens of KB.
const maxLineBytes = 1 << 20

type Event struct {
	ID   string
	Name string
	Data string
}

// ReadEvents parses r until EOF or until fn returns false. Comment lines and
// unknown fields are skipped; events without data are not dispatched.
func ReadEvents(r io.Reader, fn func(Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		ev      Event
		data    []string
		hasData bool
	)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				if !fn(ev) {
					return nil
				}
			}
			ev = Event{ID: ev.ID}
			data = data[:0]
			hasData = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		}
	}

	return scanner.Err()
}
