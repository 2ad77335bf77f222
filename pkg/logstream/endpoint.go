package logstream

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint builds the websocket URL of an execution's log stream. The
// scheme follows the base: https and wss give wss, http and ws give ws.
func Endpoint(baseURL, executionID, token string) (string, error) {
	if executionID == "" {
		return "", fmt.Errorf("execution id is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", baseURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("server url %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	rawBase := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/task-executions/" + executionID + "/logs"
	u.RawPath = rawBase + "/ws/task-executions/" + url.PathEscape(executionID) + "/logs"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}
