// Package api holds the wire contract shared by the relay server and its clients.
package api

// ChannelsPrefix is the path prefix of relay websocket endpoints
const ChannelsPrefix = "/channels/"

// HealthPath is the health check endpoint
const HealthPath = "/api/v1/health"

// ChannelPath returns the websocket endpoint of channel name
func ChannelPath(name string) string {
	return ChannelsPrefix + name
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Channels      int    `json:"channels"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the JSON body of every error returned by the server
type ErrorResponse struct {
	Error string `json:"error"`
}
