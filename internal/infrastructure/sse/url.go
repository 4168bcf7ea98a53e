// ABOUTME: Builds the feed subscription URL with its connection-recovery directive
// ABOUTME: Encodes cf_connect={"subs":{"<channel>":{"recover":true}}} into the query string
package sse

import (
	"encoding/json"
	"fmt"
	"net/url"
)

type subOptions struct {
	Recover bool `json:"recover"`
}

type connectDirective struct {
	Subs map[string]subOptions `json:"subs"`
}

func ConnectURL(base, channel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("feed url %q must be absolute", base)
	}

	directive, err := json.Marshal(connectDirective{
		Subs: map[string]subOptions{channel: {Recover: true}},
	})
	if err != nil {
		return "", fmt.Errorf("encode connect directive: %w", err)
	}

	q := u.Query()
	q.Set("cf_connect", string(directive))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
