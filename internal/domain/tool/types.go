// Package tool defines the contract of the backend tool invocation endpoint.
package tool

import "context"

// CallResponse is the outcome of one tool invocation. Result carries the raw
// response payload (arbitrarily nested); the extractor is responsible for
// turning it into conversation text.
type CallResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client invokes a named tool on a specific backend server.
type Client interface {
	CallTool(ctx context.Context, serverID, name string, args map[string]any) (*CallResponse, error)
}
