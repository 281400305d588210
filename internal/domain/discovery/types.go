// Package discovery maintains the time-bounded mapping from tool name to the
// backend server that hosts it.
package discovery

import "context"

// ServerInfo identifies one registered tool server.
type ServerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolInfo describes one tool advertised by a server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Client is the server discovery endpoint.
type Client interface {
	ListServers(ctx context.Context) ([]ServerInfo, error)
	ListServerTools(ctx context.Context, serverID string) ([]ToolInfo, error)
}

// Stats accumulates cache lookup counters. Counters survive rebuilds and are
// zeroed only by an explicit Reset.
type Stats struct {
	Hits   uint64  `json:"hits"`
	Misses uint64  `json:"misses"`
	Rate   float64 `json:"hit_rate"`
}
