package protocol

import (
	"fmt"
	"net/url"
)

// NormalizeURL converts an http(s) URL into the equivalent ws(s) URL. URLs
// already using a websocket scheme are returned unchanged.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing connection url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported connection url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("connection url is missing a host: %s", raw)
	}
	return u.String(), nil
}
